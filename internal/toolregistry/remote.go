package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"mcpfleet/internal/cache"
	"mcpfleet/internal/engine"
	"mcpfleet/internal/logging"
)

const toolsCacheKey = "tools"

type Options struct {
	APIURL       string
	Container    string
	Binary       string
	ConfigsMount string
	GroupsMount  string
	CacheTTL     time.Duration
	HTTPTimeout  time.Duration
}

// Remote reads the registry's HTTP API and runs its control CLI inside the
// registry container.
type Remote struct {
	opts  Options
	http  *http.Client
	eng   engine.Engine
	cache *cache.Store[[]Tool]
	log   *zap.Logger
}

func NewRemote(opts Options, eng engine.Engine, store *cache.Store[[]Tool], log *zap.Logger) *Remote {
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 10 * time.Second
	}
	if opts.Binary == "" {
		opts.Binary = "/mcpjungle"
	}
	if store == nil {
		store = cache.NewStore[[]Tool]()
	}
	return &Remote{
		opts:  opts,
		http:  &http.Client{Timeout: opts.HTTPTimeout},
		eng:   eng,
		cache: store,
		log:   logging.OrNop(log),
	}
}

func (r *Remote) ListTools(ctx context.Context) ([]Tool, error) {
	return r.cache.GetOrLoad(toolsCacheKey, r.opts.CacheTTL, func() ([]Tool, error) {
		return r.fetchTools(ctx)
	})
}

func (r *Remote) fetchTools(ctx context.Context) ([]Tool, error) {
	url := strings.TrimRight(r.opts.APIURL, "/") + "/api/v0/tools"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("list tools: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var tools []Tool
	if err := json.NewDecoder(resp.Body).Decode(&tools); err != nil {
		return nil, fmt.Errorf("decode tools: %w", err)
	}
	return tools, nil
}

func (r *Remote) RegisterServer(ctx context.Context, name string) error {
	return r.mutate(ctx, "register", "-c", path.Join(r.opts.ConfigsMount, name+".json"))
}

func (r *Remote) DeregisterServer(ctx context.Context, name string) error {
	return r.mutate(ctx, "deregister", name)
}

func (r *Remote) CreateGroup(ctx context.Context, name string) error {
	return r.mutate(ctx, "create", "group", "-c", path.Join(r.opts.GroupsMount, name+".json"))
}

func (r *Remote) UpdateGroup(ctx context.Context, name string) error {
	return r.mutate(ctx, "update", "group", "-c", path.Join(r.opts.GroupsMount, name+".json"))
}

func (r *Remote) DeleteGroup(ctx context.Context, name string) error {
	return r.mutate(ctx, "delete", "group", name)
}

func (r *Remote) ListServers(ctx context.Context) (string, error) {
	return r.run(ctx, "list", "servers")
}

func (r *Remote) mutate(ctx context.Context, args ...string) error {
	_, err := r.run(ctx, args...)
	r.cache.Invalidate(toolsCacheKey)
	return err
}

func (r *Remote) run(ctx context.Context, args ...string) (string, error) {
	cmd := append([]string{r.opts.Binary}, args...)
	res, err := r.eng.Exec(ctx, r.opts.Container, cmd)
	if err != nil {
		return "", fmt.Errorf("%s: %w", strings.Join(args, " "), err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%s: exit %d: %s", strings.Join(args, " "), res.ExitCode, strings.TrimSpace(res.Output()))
	}
	r.log.Debug("registry command", zap.Strings("args", args))
	return res.Stdout, nil
}

var _ Client = (*Remote)(nil)
