package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
)

// Docker drives the Docker Engine API over its socket.
type Docker struct {
	cli  *client.Client
	auth AuthFunc
}

// AuthFunc returns the encoded registry auth for an image reference, or ""
// for anonymous pulls.
type AuthFunc func(ctx context.Context, ref string) (string, error)

func NewDocker(host, apiVersion string) (*Docker, error) {
	opts := []client.Opt{client.FromEnv}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	if apiVersion != "" {
		opts = append(opts, client.WithVersion(apiVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Docker{cli: cli}, nil
}

func (d *Docker) Close() error {
	return d.cli.Close()
}

// SetPullAuth installs the credential source used by PullImage.
func (d *Docker) SetPullAuth(fn AuthFunc) {
	d.auth = fn
}

func (d *Docker) PullImage(ctx context.Context, ref string) error {
	opts := types.ImagePullOptions{}
	if d.auth != nil {
		auth, err := d.auth(ctx, ref)
		if err != nil {
			return fmt.Errorf("registry auth for %s: %w", ref, err)
		}
		opts.RegistryAuth = auth
	}
	rc, err := d.cli.ImagePull(ctx, ref, opts)
	if err != nil {
		return mapNotFound(err)
	}
	defer rc.Close()
	if err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil); err != nil {
		return err
	}
	return ctx.Err()
}

func (d *Docker) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *Docker) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:     spec.Image,
		Cmd:       spec.Command,
		Env:       spec.Env,
		Labels:    spec.Labels,
		OpenStdin: spec.OpenStdin,
		Tty:       spec.TTY,
	}
	hostCfg := &container.HostConfig{
		Binds:         spec.Volumes,
		RestartPolicy: restartPolicy(spec.RestartPolicy),
	}
	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{spec.Network: {}},
		}
	}
	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", mapNotFound(err)
	}
	return resp.ID, nil
}

func restartPolicy(name string) container.RestartPolicy {
	policy := container.RestartPolicy{}
	switch name {
	case "always":
		policy.Name = "always"
	case "unless-stopped":
		policy.Name = "unless-stopped"
	case "on-failure":
		policy.Name = "on-failure"
	default:
		policy.Name = "no"
	}
	return policy
}

func (d *Docker) StartContainer(ctx context.Context, name string) error {
	return mapNotFound(d.cli.ContainerStart(ctx, name, container.StartOptions{}))
}

func (d *Docker) StopContainer(ctx context.Context, name string, grace time.Duration) error {
	secs := int(grace.Seconds())
	return mapNotFound(d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &secs}))
}

func (d *Docker) RemoveContainer(ctx context.Context, name string) error {
	return mapNotFound(d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}))
}

func (d *Docker) RestartContainer(ctx context.Context, name string, grace time.Duration) error {
	secs := int(grace.Seconds())
	return mapNotFound(d.cli.ContainerRestart(ctx, name, container.StopOptions{Timeout: &secs}))
}

func (d *Docker) InspectStatus(ctx context.Context, name string) (string, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		return "", mapNotFound(err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return "unknown", nil
	}
	return info.State.Status, nil
}

func (d *Docker) Exec(ctx context.Context, name string, cmd []string) (ExecResult, error) {
	created, err := d.cli.ContainerExecCreate(ctx, name, types.ExecConfig{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, mapNotFound(err)
	}
	attached, err := d.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return ExecResult{}, err
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil {
		return ExecResult{}, err
	}
	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

func (d *Docker) Attach(ctx context.Context, name string, cmd []string) (io.ReadWriteCloser, error) {
	created, err := d.cli.ContainerExecCreate(ctx, name, types.ExecConfig{
		Cmd:          cmd,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	attached, err := d.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, io.Discard, attached.Reader)
		pw.CloseWithError(copyErr)
	}()
	return &execStream{resp: attached, stdout: pr}, nil
}

// execStream exposes a hijacked exec session as stdin (writes) and demultiplexed stdout (reads).
type execStream struct {
	resp   types.HijackedResponse
	stdout *io.PipeReader
	once   sync.Once
}

func (s *execStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *execStream) Write(p []byte) (int, error) {
	return s.resp.Conn.Write(p)
}

func (s *execStream) Close() error {
	s.once.Do(func() {
		_ = s.resp.CloseWrite()
		s.resp.Close()
		_ = s.stdout.Close()
	})
	return nil
}

func mapNotFound(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

var _ Engine = (*Docker)(nil)
