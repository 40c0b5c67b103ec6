package engine

import (
	"context"
	"fmt"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"mcpfleet/internal/failure"
)

const (
	DefaultReadyTimeout = 90 * time.Second
	DefaultReadyPoll    = 3 * time.Second
)

var probeClient = &sdkmcp.Implementation{Name: "mcpfleet-probe", Version: "0.1.0"}

// Readiness is what a completed MCP initialize handshake told us.
type Readiness struct {
	ServerName    string `json:"serverName,omitempty"`
	ServerVersion string `json:"serverVersion,omitempty"`
	ToolCount     int    `json:"toolCount"`
}

// WaitForReady runs probeCmd inside the container and performs the MCP
// initialize handshake over its stdio, retrying every interval until timeout.
func WaitForReady(ctx context.Context, eng Engine, name string, probeCmd []string, timeout, interval time.Duration) (Readiness, error) {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	if interval <= 0 {
		interval = DefaultReadyPoll
	}
	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		ready, err := handshake(readyCtx, eng, name, probeCmd)
		if err == nil {
			return ready, nil
		}
		lastErr = err
		select {
		case <-readyCtx.Done():
			return Readiness{}, failure.Provisioning(failure.StepContainerRunning, failure.ReasonNotReady,
				fmt.Sprintf("container %s did not complete the MCP handshake within %s", name, timeout), lastErr)
		case <-time.After(interval):
		}
	}
}

func handshake(ctx context.Context, eng Engine, name string, probeCmd []string) (Readiness, error) {
	stream, err := eng.Attach(ctx, name, probeCmd)
	if err != nil {
		return Readiness{}, err
	}
	client := sdkmcp.NewClient(probeClient, nil)
	session, err := client.Connect(ctx, &sdkmcp.IOTransport{Reader: stream, Writer: stream}, nil)
	if err != nil {
		_ = stream.Close()
		return Readiness{}, fmt.Errorf("mcp handshake: %w", err)
	}
	defer session.Close()

	ready := Readiness{}
	if init := session.InitializeResult(); init != nil && init.ServerInfo != nil {
		ready.ServerName = init.ServerInfo.Name
		ready.ServerVersion = init.ServerInfo.Version
	}
	if tools, err := session.ListTools(ctx, &sdkmcp.ListToolsParams{}); err == nil {
		ready.ToolCount = len(tools.Tools)
	}
	return ready, nil
}
