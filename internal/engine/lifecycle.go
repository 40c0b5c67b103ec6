package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mcpfleet/internal/failure"
	"mcpfleet/internal/logging"
)

const (
	DefaultPullTimeout  = 600 * time.Second
	DefaultStartTimeout = 60 * time.Second
	DefaultStartPoll    = 2 * time.Second
	DefaultStopGrace    = 10 * time.Second
)

// Status is the observed runtime state. Engine failures are folded into
// Exists=false: rollback treats "unknown" and "absent" the same way.
type Status struct {
	Exists  bool   `json:"exists"`
	Running bool   `json:"running"`
	Raw     string `json:"status"`
}

// Outcome is the ignorable result of a best-effort call.
type Outcome struct {
	OK  bool
	Err error
}

func (o Outcome) Log(log *zap.Logger, msg string, fields ...zap.Field) {
	if o.OK || log == nil {
		return
	}
	log.Warn(msg, append(fields, zap.Error(o.Err))...)
}

// PullImage tries a remote pull bounded by timeout and falls back to a local
// copy of the image. usedLocal reports whether the fallback was taken.
func PullImage(ctx context.Context, eng Engine, ref string, timeout time.Duration, log *zap.Logger) (usedLocal bool, err error) {
	log = logging.OrNop(log)
	if timeout <= 0 {
		timeout = DefaultPullTimeout
	}
	pullCtx, cancel := context.WithTimeout(ctx, timeout)
	pullErr := eng.PullImage(pullCtx, ref)
	cancel()
	if pullErr == nil {
		return false, nil
	}
	exists, localErr := eng.ImageExists(ctx, ref)
	if localErr == nil && exists {
		log.Warn("image pull failed, using local image", zap.String("image", ref), zap.Error(pullErr))
		return true, nil
	}
	msg := fmt.Sprintf("failed to pull image '%s' and not found locally", ref)
	if errors.Is(pullErr, context.DeadlineExceeded) {
		msg = fmt.Sprintf("timed out pulling image '%s' and not found locally", ref)
	}
	return false, failure.Provisioning(failure.StepImagePulled, failure.ReasonImageUnavailable, msg, pullErr)
}

// StartContainer creates and starts spec, then polls until the container
// reports running. A container that fails to start is removed again. On
// timeout the returned Status carries the last observed state.
func StartContainer(ctx context.Context, eng Engine, spec ContainerSpec, timeout, poll time.Duration) (Status, error) {
	if _, err := eng.CreateContainer(ctx, spec); err != nil {
		return Status{}, failure.Provisioning(failure.StepContainerRunning, failure.ReasonStartTimeout, fmt.Sprintf("create container %s", spec.Name), err)
	}
	if err := eng.StartContainer(ctx, spec.Name); err != nil {
		_ = eng.RemoveContainer(context.WithoutCancel(ctx), spec.Name)
		return Status{}, failure.Provisioning(failure.StepContainerRunning, failure.ReasonStartTimeout, fmt.Sprintf("start container %s", spec.Name), err)
	}
	return WaitRunning(ctx, eng, spec.Name, timeout, poll)
}

// WaitRunning polls name until it reports running or timeout elapses. It is
// used on its own when something other than this process starts the container.
func WaitRunning(ctx context.Context, eng Engine, name string, timeout, poll time.Duration) (Status, error) {
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	if poll <= 0 {
		poll = DefaultStartPoll
	}
	deadline := time.Now().Add(timeout)
	status := Status{Raw: "unknown"}
	for {
		status = Probe(ctx, eng, name)
		if status.Running {
			return status, nil
		}
		if !time.Now().Add(poll).Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return status, failure.Provisioning(failure.StepContainerRunning, failure.ReasonStartTimeout, fmt.Sprintf("container %s start canceled", name), ctx.Err())
		case <-time.After(poll):
		}
	}
	return status, failure.Provisioning(failure.StepContainerRunning, failure.ReasonStartTimeout,
		fmt.Sprintf("container failed to start after %s. Status: %s", timeout, status.Raw), nil)
}

// StopContainer stops gracefully then force-removes. It never fails the caller.
func StopContainer(ctx context.Context, eng Engine, name string, grace time.Duration) Outcome {
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	_ = eng.StopContainer(ctx, name, grace)
	if err := eng.RemoveContainer(ctx, name); err != nil && !errors.Is(err, ErrNotFound) {
		return Outcome{Err: failure.Engine(fmt.Sprintf("remove container %s", name), err)}
	}
	return Outcome{OK: true}
}

func Probe(ctx context.Context, eng Engine, name string) Status {
	raw, err := eng.InspectStatus(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Status{Raw: "not found"}
		}
		return Status{Raw: "error"}
	}
	return Status{Exists: true, Running: raw == "running", Raw: raw}
}
