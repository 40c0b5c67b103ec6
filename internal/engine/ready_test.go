package engine

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"mcpfleet/internal/failure"
)

type pipeStream struct {
	io.Reader
	w *io.PipeWriter
	r *io.PipeReader
}

func (p *pipeStream) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *pipeStream) Close() error {
	_ = p.w.Close()
	return p.r.Close()
}

// serveInProcess answers attaches with an MCP server running on io.Pipe pairs.
func serveInProcess(ctx context.Context, _ string, _ []string) (io.ReadWriteCloser, error) {
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "demo", Version: "1.2.3"}, nil)
	server.AddTool(&sdkmcp.Tool{Name: "echo", InputSchema: map[string]any{"type": "object"}},
		func(context.Context, *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
			return &sdkmcp.CallToolResult{}, nil
		})
	go func() {
		_ = server.Run(ctx, &sdkmcp.IOTransport{Reader: serverR, Writer: serverW})
	}()
	return &pipeStream{Reader: clientR, w: clientW, r: clientR}, nil
}

func TestWaitForReadyHandshake(t *testing.T) {
	eng := NewMemory()
	eng.HandleAttach(serveInProcess)
	ready, err := WaitForReady(context.Background(), eng, "demo-mcp", []string{"stdio"}, 5*time.Second, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("wait for ready: %v", err)
	}
	if ready.ServerName != "demo" || ready.ServerVersion != "1.2.3" {
		t.Fatalf("unexpected server info %#v", ready)
	}
	if ready.ToolCount != 1 {
		t.Fatalf("expected 1 tool, got %d", ready.ToolCount)
	}
}

func TestWaitForReadyRetriesUntilTimeout(t *testing.T) {
	eng := NewMemory()
	attempts := 0
	eng.HandleAttach(func(context.Context, string, []string) (io.ReadWriteCloser, error) {
		attempts++
		return nil, errors.New("container is restarting")
	})
	_, err := WaitForReady(context.Background(), eng, "demo-mcp", []string{"stdio"}, 100*time.Millisecond, 20*time.Millisecond)
	if failure.ReasonOf(err) != failure.ReasonNotReady {
		t.Fatalf("expected not-ready failure, got %v", err)
	}
	if attempts < 2 {
		t.Fatalf("expected repeated attempts, got %d", attempts)
	}
}
