package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcpfleet/internal/compose"
	"mcpfleet/internal/engine"
	"mcpfleet/internal/failure"
	"mcpfleet/internal/logging"
	"mcpfleet/internal/secrets"
	"mcpfleet/internal/services"
	"mcpfleet/internal/toolregistry"
)

// Steps lists the saga steps in forward order.
var Steps = []failure.Step{
	failure.StepImagePulled,
	failure.StepComposeEntryAdded,
	failure.StepRegistryConfigWritten,
	failure.StepContainerRunning,
	failure.StepToolRegistryRegistered,
	failure.StepVerified,
}

type Options struct {
	PullTimeout  time.Duration
	ReadyProbe   bool
	ProbeCommand []string
	ReadyTimeout time.Duration
	ReadyPoll    time.Duration
}

type Saga struct {
	opts     Options
	services *services.Registry
	tools    toolregistry.Client
	secrets  secrets.Store
	log      *zap.Logger
	newID    func() string
}

// Result is reported for every run, failed or not.
type Result struct {
	Success          bool           `json:"success"`
	RunID            string         `json:"runId"`
	Name             string         `json:"name,omitempty"`
	ContainerName    string         `json:"containerName,omitempty"`
	ContainerRunning bool           `json:"containerRunning"`
	ContainerStatus  string         `json:"containerStatus,omitempty"`
	ToolCount        int            `json:"toolCount"`
	FailedStep       failure.Step   `json:"failedStep,omitempty"`
	Message          string         `json:"message"`
	Warning          string         `json:"warning,omitempty"`
	UsedLocalImage   bool           `json:"usedLocalImage,omitempty"`
	Volumes          []string       `json:"volumes,omitempty"`
	EnvVars          []string       `json:"envVars,omitempty"`
	SecretsStored    bool           `json:"secretsStored"`
	Completed        []failure.Step `json:"completed,omitempty"`
	Compensated      []failure.Step `json:"compensated,omitempty"`
}

func New(opts Options, reg *services.Registry, tools toolregistry.Client, secretStore secrets.Store, log *zap.Logger) *Saga {
	if secretStore == nil {
		secretStore = secrets.None{}
	}
	return &Saga{
		opts:     opts,
		services: reg,
		tools:    tools,
		secrets:  secretStore,
		log:      logging.OrNop(log),
		newID:    func() string { return uuid.NewString() },
	}
}

type step struct {
	name       failure.Step
	run        func(ctx context.Context) error
	compensate func(ctx context.Context)
}

// run carries the state one provisioning attempt accumulates.
type run struct {
	req    Request
	result *Result
	log    *zap.Logger
}

// Provision executes the saga. On failure at a step, compensations of the
// completed steps run in reverse and the returned error names the step.
func (s *Saga) Provision(ctx context.Context, req Request) (Result, error) {
	result := Result{RunID: s.newID()}
	name, err := NormalizeName(req.Name)
	if err != nil {
		result.Message = err.Error()
		return result, err
	}
	req.Name = name
	req.Image = strings.TrimSpace(req.Image)
	if req.Image == "" {
		err := failure.Validationf("image is required")
		result.Message = err.Error()
		return result, err
	}
	result.Name = name
	result.ContainerName = s.services.ContainerName(name)
	log := s.log.With(zap.String("run_id", result.RunID), zap.String("server", name))

	release := s.services.Locks().Acquire(services.ServerLockKey(name))
	defer release()

	envNames, err := s.storeSecrets(ctx, req.EnvVars)
	if err != nil {
		result.Message = err.Error()
		return result, err
	}
	result.EnvVars = envNames
	result.SecretsStored = s.secrets.Configured() && len(envNames) > 0
	result.Volumes = PromoteHostPaths(req.Command)

	r := &run{req: req, result: &result, log: log}
	steps := s.steps(r)
	var done []step
	for _, st := range steps {
		if err := st.run(ctx); err != nil {
			result.FailedStep = st.name
			err = failure.AtStep(st.name, err)
			log.Warn("provisioning step failed", zap.String("step", string(st.name)), zap.Error(err))
			s.compensate(ctx, r, done)
			result.Message = err.Error()
			return result, err
		}
		done = append(done, st)
		result.Completed = append(result.Completed, st.name)
		log.Debug("provisioning step completed", zap.String("step", string(st.name)))
	}

	s.verify(ctx, r)
	result.Success = true
	result.Message = fmt.Sprintf("Server '%s' added", name)
	log.Info("provisioned tool server", zap.Int("tools", result.ToolCount), zap.Bool("running", result.ContainerRunning))
	return result, nil
}

func (s *Saga) steps(r *run) []step {
	req := r.req
	return []step{
		{
			name: failure.StepImagePulled,
			run: func(ctx context.Context) error {
				usedLocal, err := engine.PullImage(ctx, s.services.Engine(), req.Image, s.opts.PullTimeout, r.log)
				r.result.UsedLocalImage = usedLocal
				return err
			},
		},
		{
			name: failure.StepComposeEntryAdded,
			run: func(ctx context.Context) error {
				_, err := s.services.AddService(services.Definition{
					Name:        req.Name,
					Image:       req.Image,
					Command:     req.Command,
					EnvVars:     r.result.EnvVars,
					Volumes:     r.result.Volumes,
					Description: req.Description,
				})
				if errors.Is(err, compose.ErrServiceExists) {
					return failure.Provisioning(failure.StepComposeEntryAdded, failure.ReasonComposeConflict, "failed to add service", err)
				}
				return err
			},
			compensate: func(context.Context) {
				if _, err := s.services.RemoveService(req.Name); err != nil {
					r.log.Warn("rollback: remove compose entry failed", zap.Error(err))
				}
			},
		},
		{
			name: failure.StepRegistryConfigWritten,
			run: func(context.Context) error {
				cfg := services.NewRegistryConfig(req.Name, r.result.ContainerName, req.Command, req.Description)
				if _, err := s.services.WriteRegistryConfig(cfg); err != nil {
					return failure.Provisioning(failure.StepRegistryConfigWritten, failure.ReasonConfigWrite, "failed to create config", err)
				}
				return nil
			},
			compensate: func(context.Context) {
				if _, err := s.services.DeleteRegistryConfig(req.Name); err != nil {
					r.log.Warn("rollback: delete registry config failed", zap.Error(err))
				}
			},
		},
		{
			name: failure.StepContainerRunning,
			run: func(ctx context.Context) error {
				return s.startContainer(ctx, r)
			},
			compensate: func(ctx context.Context) {
				s.services.StopService(context.WithoutCancel(ctx), req.Name).Log(r.log, "rollback: container teardown failed")
			},
		},
		{
			name: failure.StepToolRegistryRegistered,
			run: func(ctx context.Context) error {
				if err := s.tools.RegisterServer(ctx, req.Name); err != nil {
					return failure.Provisioning(failure.StepToolRegistryRegistered, failure.ReasonRegistrationFailed,
						"failed to register with tool registry", err)
				}
				return nil
			},
		},
	}
}

func (s *Saga) startContainer(ctx context.Context, r *run) error {
	status, err := s.services.StartService(ctx, r.req.Name, r.req.EnvVars)
	r.result.ContainerRunning = status.Running
	r.result.ContainerStatus = status.Raw
	if err == nil && s.opts.ReadyProbe {
		_, err = engine.WaitForReady(ctx, s.services.Engine(), r.result.ContainerName, s.probeCommand(r.req.Command), s.opts.ReadyTimeout, s.opts.ReadyPoll)
	}
	if err != nil {
		// A container that never became ready is removed before earlier steps roll back.
		s.services.StopService(context.WithoutCancel(ctx), r.req.Name).Log(r.log, "container teardown failed")
		return err
	}
	return nil
}

func (s *Saga) probeCommand(command []string) []string {
	if len(s.opts.ProbeCommand) > 0 {
		return s.opts.ProbeCommand
	}
	if len(command) == 0 {
		return []string{"stdio"}
	}
	return command
}

func (s *Saga) compensate(ctx context.Context, r *run, done []step) {
	ctx = context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		if done[i].compensate == nil {
			continue
		}
		done[i].compensate(ctx)
		r.result.Compensated = append(r.result.Compensated, done[i].name)
	}
	final := s.services.Status(ctx, r.req.Name)
	r.result.ContainerRunning = final.Running
	if r.result.ContainerStatus == "" {
		r.result.ContainerStatus = final.Raw
	}
}

// verify counts the registered tools and re-reads container status. Neither
// result can fail a run that reached registration.
func (s *Saga) verify(ctx context.Context, r *run) {
	tools, err := s.tools.ListTools(ctx)
	if err != nil {
		r.log.Info("tool count unavailable", zap.Error(err))
	} else {
		r.result.ToolCount = toolregistry.CountTools(tools, r.req.Name)
		r.result.Completed = append(r.result.Completed, failure.StepVerified)
	}
	status := s.services.Status(ctx, r.req.Name)
	r.result.ContainerRunning = status.Running
	r.result.ContainerStatus = status.Raw
	if !status.Running {
		r.result.Warning = fmt.Sprintf("Container status: %s. Check 'docker logs %s' if it doesn't start.", status.Raw, r.result.ContainerName)
	}
}

// storeSecrets writes non-empty values to the secret store when one is
// configured and returns the variable names the compose entry references.
func (s *Saga) storeSecrets(ctx context.Context, env map[string]string) ([]string, error) {
	if len(env) == 0 {
		return nil, nil
	}
	if !s.secrets.Configured() {
		return sortedKeys(env), nil
	}
	var names []string
	for _, key := range sortedKeys(env) {
		value := env[key]
		if value == "" {
			continue
		}
		if err := s.secrets.Put(ctx, key, value); err != nil {
			return nil, failure.Provisioning(failure.StepNone, failure.ReasonSecretStore, fmt.Sprintf("failed to store secret '%s'", key), err)
		}
		names = append(names, key)
	}
	return names, nil
}
