package failure

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindCompose      Kind = "compose"
	KindProvisioning Kind = "provisioning"
	KindEngine       Kind = "engine"
)

// Step names a provisioning saga step. Steps are ordered; see provision.Steps.
type Step string

const (
	StepNone                   Step = ""
	StepImagePulled            Step = "image_pulled"
	StepComposeEntryAdded      Step = "compose_entry_added"
	StepRegistryConfigWritten  Step = "registry_config_written"
	StepContainerRunning       Step = "container_running"
	StepToolRegistryRegistered Step = "tool_registry_registered"
	StepVerified               Step = "verified"
)

type Reason string

const (
	ReasonNone               Reason = ""
	ReasonImageUnavailable   Reason = "image_unavailable"
	ReasonComposeConflict    Reason = "compose_conflict"
	ReasonConfigWrite        Reason = "config_write"
	ReasonStartTimeout       Reason = "start_timeout"
	ReasonNotReady           Reason = "not_ready"
	ReasonRegistrationFailed Reason = "registration_failed"
	ReasonSecretStore        Reason = "secret_store"
)

// Error is the kind-tagged error returned by every component. Callers branch
// on Kind (and Step for provisioning) instead of message text.
type Error struct {
	Kind    Kind
	Step    Step
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Compose(message string, err error) error {
	return &Error{Kind: KindCompose, Message: message, Err: err}
}

func Composef(format string, args ...any) error {
	return &Error{Kind: KindCompose, Message: fmt.Sprintf(format, args...)}
}

func Provisioning(step Step, reason Reason, message string, err error) error {
	return &Error{Kind: KindProvisioning, Step: step, Reason: reason, Message: message, Err: err}
}

func Engine(message string, err error) error {
	return &Error{Kind: KindEngine, Message: message, Err: err}
}

// AtStep attributes err to a provisioning step. Tagged errors keep their
// kind and reason; untagged ones become provisioning errors.
func AtStep(step Step, err error) error {
	if err == nil {
		return nil
	}
	fe, ok := As(err)
	if !ok {
		return Provisioning(step, ReasonNone, "", err)
	}
	if fe.Step != StepNone {
		return err
	}
	tagged := *fe
	tagged.Step = step
	return &tagged
}

func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of the outermost tagged error, or "" for untagged errors.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return ""
}

func StepOf(err error) Step {
	if fe, ok := As(err); ok {
		return fe.Step
	}
	return StepNone
}

func ReasonOf(err error) Reason {
	if fe, ok := As(err); ok {
		return fe.Reason
	}
	return ReasonNone
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
