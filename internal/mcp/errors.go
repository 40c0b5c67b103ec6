package mcp

import (
	"context"
	"errors"
	"strings"

	"mcpfleet/internal/engine"
	"mcpfleet/internal/failure"
)

type ErrorDetail struct {
	Code      string `json:"code"`
	Kind      string `json:"kind,omitempty"`
	Step      string `json:"step,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
}

type ErrorEnvelope struct {
	Error   ErrorDetail `json:"error"`
	Details any         `json:"details,omitempty"`
}

func BuildErrorEnvelope(err error, details any) map[string]any {
	envelope := ErrorEnvelope{Error: classifyError(err)}
	out := map[string]any{"error": envelope.Error}
	if details != nil {
		out["details"] = details
	}
	return out
}

func classifyError(err error) ErrorDetail {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorDetail{Code: "timeout", Message: msg, Hint: "Increase the tool timeout or check engine latency.", Retryable: true}
	}
	if errors.Is(err, context.Canceled) {
		return ErrorDetail{Code: "canceled", Message: msg, Hint: "Request was canceled before completion.", Retryable: true}
	}

	if fe, ok := failure.As(err); ok {
		detail := ErrorDetail{Kind: string(fe.Kind), Step: string(fe.Step), Reason: string(fe.Reason), Message: msg}
		switch fe.Kind {
		case failure.KindValidation:
			detail.Code = "invalid_request"
			detail.Hint = "Fix request parameters."
		case failure.KindCompose:
			detail.Code = "conflict"
			detail.Hint = "Check the compose file for an existing entry or a syntax error."
		case failure.KindProvisioning:
			detail.Code, detail.Hint, detail.Retryable = provisioningCode(fe.Reason)
		case failure.KindEngine:
			detail.Code = "unavailable"
			detail.Hint = "Check that the container engine is reachable."
			detail.Retryable = true
		}
		if errors.Is(err, engine.ErrNotFound) {
			detail.Code = "not_found"
			detail.Retryable = false
		}
		return detail
	}

	if errors.Is(err, engine.ErrNotFound) {
		return ErrorDetail{Code: "not_found", Message: msg, Hint: "Verify the server name.", Retryable: false}
	}
	if isInvalidRequestMessage(msg) {
		return ErrorDetail{Code: "invalid_request", Message: msg, Hint: "Fix request parameters or schema.", Retryable: false}
	}

	return ErrorDetail{Code: "internal", Message: msg, Hint: "Check server logs for details.", Retryable: false}
}

func provisioningCode(reason failure.Reason) (code, hint string, retryable bool) {
	switch reason {
	case failure.ReasonImageUnavailable:
		return "not_found", "Check the image reference and registry access.", false
	case failure.ReasonComposeConflict:
		return "conflict", "Delete the existing server first or pick another name.", false
	case failure.ReasonStartTimeout, failure.ReasonNotReady:
		return "unavailable", "Check 'docker logs' for the server container.", true
	case failure.ReasonRegistrationFailed:
		return "upstream_error", "Check that the tool registry is running.", true
	default:
		return "provisioning_failed", "Check server logs for details.", false
	}
}

func isInvalidRequestMessage(msg string) bool {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "required") || strings.Contains(lower, "invalid") || strings.Contains(lower, "missing") {
		return true
	}
	return false
}
