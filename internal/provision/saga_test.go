package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"mcpfleet/internal/compose"
	"mcpfleet/internal/engine"
	"mcpfleet/internal/failure"
	"mcpfleet/internal/secrets"
	"mcpfleet/internal/services"
	"mcpfleet/internal/toolregistry"
)

const testCompose = "services:\n  emcp-server:\n    image: mcpjungle/mcpjungle\n"

type fixture struct {
	saga     *Saga
	eng      *engine.Memory
	tools    *toolregistry.Fake
	reg      *services.Registry
	compose  *compose.Store
	configs  string
	original string
}

func newFixture(t *testing.T, secretStore secrets.Store, tools toolregistry.Client) fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "docker-compose.yaml")
	if err := os.WriteFile(path, []byte(testCompose), 0o644); err != nil {
		t.Fatalf("write compose: %v", err)
	}
	store, err := compose.NewStore(compose.Options{Path: path}, nil, nil)
	if err != nil {
		t.Fatalf("compose store: %v", err)
	}
	eng := engine.NewMemory()
	eng.AddRemoteImage("busybox:latest")
	fake, _ := tools.(*toolregistry.Fake)
	if tools == nil {
		fake = toolregistry.NewFake()
		tools = fake
	}
	configs := filepath.Join(dir, "configs")
	reg := services.New(services.Options{
		ConfigsDir:   configs,
		StartTimeout: 100 * time.Millisecond,
		StartPoll:    10 * time.Millisecond,
		StopGrace:    time.Second,
	}, services.Deps{Compose: store, Engine: eng, Secrets: secretStore, Tools: tools})
	saga := New(Options{PullTimeout: time.Second}, reg, tools, secretStore, nil)
	saga.newID = func() string { return "run-1" }
	return fixture{saga: saga, eng: eng, tools: fake, reg: reg, compose: store, configs: configs, original: testCompose}
}

func demoRequest() Request {
	return Request{Name: "demo", Image: "busybox:latest", Command: []string{"sleep", "1"}, EnvVars: map[string]string{}}
}

func (f fixture) assertRolledBack(t *testing.T) {
	t.Helper()
	data, err := os.ReadFile(f.compose.Path())
	if err != nil {
		t.Fatalf("read compose: %v", err)
	}
	if string(data) != f.original {
		t.Fatalf("expected compose document restored, got:\n%s", data)
	}
	if _, err := os.Stat(filepath.Join(f.configs, "demo.json")); !os.IsNotExist(err) {
		t.Fatalf("expected registry config absent, stat err=%v", err)
	}
	if _, _, ok := f.eng.Container("demo-mcp"); ok {
		t.Fatalf("expected no container left behind")
	}
}

func TestProvisionSuccess(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.tools.SetTools("demo__a", "demo__b", "other__c")
	result, err := f.saga.Provision(context.Background(), demoRequest())
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !result.Success || result.RunID != "run-1" || result.Message != "Server 'demo' added" {
		t.Fatalf("unexpected result %#v", result)
	}
	if !result.ContainerRunning || result.ContainerStatus != "running" || result.Warning != "" {
		t.Fatalf("unexpected container state %#v", result)
	}
	if result.ToolCount != 2 {
		t.Fatalf("expected 2 tools, got %d", result.ToolCount)
	}
	if !reflect.DeepEqual(result.Completed, Steps) {
		t.Fatalf("unexpected completed steps %v", result.Completed)
	}
	if !f.tools.HasServer("demo") {
		t.Fatalf("expected server registered")
	}
	if _, ok, _ := f.compose.Service("demo"); !ok {
		t.Fatalf("expected compose entry")
	}
	if _, err := os.Stat(filepath.Join(f.configs, "demo.json")); err != nil {
		t.Fatalf("expected registry config: %v", err)
	}
}

func TestProvisionStartTimeoutRollsBack(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.eng.SetRunState("demo-mcp", "created")
	result, err := f.saga.Provision(context.Background(), demoRequest())
	if err == nil || result.Success {
		t.Fatalf("expected failure, got %#v", result)
	}
	if result.FailedStep != failure.StepContainerRunning || failure.StepOf(err) != failure.StepContainerRunning {
		t.Fatalf("expected container_running failure, got %s / %v", result.FailedStep, err)
	}
	if failure.ReasonOf(err) != failure.ReasonStartTimeout {
		t.Fatalf("expected start timeout reason, got %v", err)
	}
	want := []failure.Step{failure.StepRegistryConfigWritten, failure.StepComposeEntryAdded}
	if !reflect.DeepEqual(result.Compensated, want) {
		t.Fatalf("unexpected compensation order %v", result.Compensated)
	}
	if result.ContainerRunning || result.ContainerStatus != "created" {
		t.Fatalf("expected last observed status reported, got %#v", result)
	}
	f.assertRolledBack(t)
	if f.tools.HasServer("demo") {
		t.Fatalf("expected no registration")
	}
}

func TestProvisionRegistrationFailureRollsBack(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.tools.FailOn("register", errors.New("connection refused"))
	result, err := f.saga.Provision(context.Background(), demoRequest())
	if failure.StepOf(err) != failure.StepToolRegistryRegistered || failure.ReasonOf(err) != failure.ReasonRegistrationFailed {
		t.Fatalf("expected registration failure, got %v", err)
	}
	want := []failure.Step{failure.StepContainerRunning, failure.StepRegistryConfigWritten, failure.StepComposeEntryAdded}
	if !reflect.DeepEqual(result.Compensated, want) {
		t.Fatalf("unexpected compensation order %v", result.Compensated)
	}
	if result.ContainerRunning {
		t.Fatalf("expected container reported as not running")
	}
	f.assertRolledBack(t)
}

func TestProvisionImageUnavailable(t *testing.T) {
	f := newFixture(t, nil, nil)
	req := demoRequest()
	req.Image = "ghost:latest"
	result, err := f.saga.Provision(context.Background(), req)
	if result.FailedStep != failure.StepImagePulled || failure.ReasonOf(err) != failure.ReasonImageUnavailable {
		t.Fatalf("expected image failure, got %s / %v", result.FailedStep, err)
	}
	if len(result.Compensated) != 0 {
		t.Fatalf("expected nothing to compensate, got %v", result.Compensated)
	}
	f.assertRolledBack(t)
}

func TestProvisionExistingServiceConflict(t *testing.T) {
	f := newFixture(t, nil, nil)
	if _, err := f.reg.AddService(services.Definition{Name: "demo", Image: "busybox:latest"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before, _ := os.ReadFile(f.compose.Path())
	result, err := f.saga.Provision(context.Background(), demoRequest())
	if result.FailedStep != failure.StepComposeEntryAdded || failure.ReasonOf(err) != failure.ReasonComposeConflict {
		t.Fatalf("expected compose conflict, got %s / %v", result.FailedStep, err)
	}
	after, _ := os.ReadFile(f.compose.Path())
	if string(before) != string(after) {
		t.Fatalf("existing entry must be kept")
	}
}

func TestProvisionComposeErrorKeepsKind(t *testing.T) {
	f := newFixture(t, nil, nil)
	if err := os.WriteFile(f.compose.Path(), []byte("services: [broken\n"), 0o644); err != nil {
		t.Fatalf("write compose: %v", err)
	}
	result, err := f.saga.Provision(context.Background(), demoRequest())
	if result.FailedStep != failure.StepComposeEntryAdded || failure.StepOf(err) != failure.StepComposeEntryAdded {
		t.Fatalf("expected failure at compose step, got %s / %v", result.FailedStep, err)
	}
	if !failure.IsKind(err, failure.KindCompose) || failure.ReasonOf(err) == failure.ReasonComposeConflict {
		t.Fatalf("expected compose error without conflict reason, got kind=%s reason=%s", failure.KindOf(err), failure.ReasonOf(err))
	}
}

func TestConcurrentProvisionSameName(t *testing.T) {
	f := newFixture(t, nil, nil)
	const runs = 2
	results := make([]Result, runs)
	errs := make([]error, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.saga.Provision(context.Background(), demoRequest())
		}(i)
	}
	wg.Wait()

	var winners int
	for i := 0; i < runs; i++ {
		if errs[i] == nil {
			winners++
			continue
		}
		if results[i].FailedStep != failure.StepComposeEntryAdded || failure.ReasonOf(errs[i]) != failure.ReasonComposeConflict {
			t.Fatalf("expected loser to fail on compose conflict, got %s / %v", results[i].FailedStep, errs[i])
		}
		if len(results[i].Compensated) != 0 {
			t.Fatalf("loser must not compensate the winner's steps, got %v", results[i].Compensated)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one successful run, got %d (errs=%v)", winners, errs)
	}
	if _, status, ok := f.eng.Container("demo-mcp"); !ok || status != "running" {
		t.Fatalf("expected winner's container running, ok=%v status=%q", ok, status)
	}
	if _, ok, _ := f.compose.Service("demo"); !ok {
		t.Fatalf("expected winner's compose entry kept")
	}
	if _, err := os.Stat(filepath.Join(f.configs, "demo.json")); err != nil {
		t.Fatalf("expected winner's registry config kept: %v", err)
	}
	if !f.tools.HasServer("demo") {
		t.Fatalf("expected winner registered")
	}
}

func TestProvisionToolCountIsAdvisory(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.tools.FailList(errors.New("registry unreachable"))
	result, err := f.saga.Provision(context.Background(), demoRequest())
	if err != nil || !result.Success {
		t.Fatalf("expected success despite listing failure, got %v", err)
	}
	if result.ToolCount != 0 {
		t.Fatalf("expected zero tool count, got %d", result.ToolCount)
	}
	for _, st := range result.Completed {
		if st == failure.StepVerified {
			t.Fatalf("verification should not be marked completed")
		}
	}
}

// crashingRegistry stops the container right as registration happens.
type crashingRegistry struct {
	*toolregistry.Fake
	eng *engine.Memory
}

func (c crashingRegistry) RegisterServer(ctx context.Context, name string) error {
	spec, _, _ := c.eng.Container(name + "-mcp")
	c.eng.Seed(spec, "exited")
	return c.Fake.RegisterServer(ctx, name)
}

func TestProvisionWarnsWhenContainerStopsAfterRegistration(t *testing.T) {
	fake := toolregistry.NewFake()
	f := newFixture(t, nil, nil)
	reg := crashingRegistry{Fake: fake, eng: f.eng}
	f.saga.tools = reg
	result, err := f.saga.Provision(context.Background(), demoRequest())
	if err != nil || !result.Success {
		t.Fatalf("expected success, got %v", err)
	}
	if result.ContainerRunning || result.ContainerStatus != "exited" {
		t.Fatalf("expected exited container reported, got %#v", result)
	}
	if !strings.Contains(result.Warning, "docker logs demo-mcp") {
		t.Fatalf("expected warning, got %q", result.Warning)
	}
}

func TestProvisionReadyProbeFailureIsContainerFailure(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.saga.opts.ReadyProbe = true
	f.saga.opts.ReadyTimeout = 50 * time.Millisecond
	f.saga.opts.ReadyPoll = 10 * time.Millisecond
	result, err := f.saga.Provision(context.Background(), demoRequest())
	if result.FailedStep != failure.StepContainerRunning || failure.ReasonOf(err) != failure.ReasonNotReady {
		t.Fatalf("expected not-ready failure at container_running, got %s / %v", result.FailedStep, err)
	}
	f.assertRolledBack(t)
}

func TestProvisionStoresSecrets(t *testing.T) {
	store := secrets.NewEnv("")
	f := newFixture(t, store, nil)
	req := demoRequest()
	req.EnvVars = map[string]string{"TOKEN": "abc", "EMPTY": ""}
	result, err := f.saga.Provision(context.Background(), req)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !result.SecretsStored || !reflect.DeepEqual(result.EnvVars, []string{"TOKEN"}) {
		t.Fatalf("unexpected env handling %#v", result)
	}
	if value, ok, _ := store.Get(context.Background(), "TOKEN"); !ok || value != "abc" {
		t.Fatalf("expected secret stored")
	}
	spec, _, _ := f.compose.Service("demo")
	if !reflect.DeepEqual(spec.EnvVars, []string{"TOKEN"}) {
		t.Fatalf("unexpected compose env %v", spec.EnvVars)
	}
	cspec, _, _ := f.eng.Container("demo-mcp")
	if !reflect.DeepEqual(cspec.Env, []string{"TOKEN=abc"}) {
		t.Fatalf("unexpected container env %v", cspec.Env)
	}
}

func TestProvisionWithoutSecretStoreReferencesAllNames(t *testing.T) {
	f := newFixture(t, nil, nil)
	req := demoRequest()
	req.EnvVars = map[string]string{"TOKEN": "abc", "EMPTY": ""}
	result, err := f.saga.Provision(context.Background(), req)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if result.SecretsStored || !reflect.DeepEqual(result.EnvVars, []string{"EMPTY", "TOKEN"}) {
		t.Fatalf("unexpected env handling %#v", result)
	}
}

func TestProvisionRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil, nil)
	if _, err := f.saga.Provision(context.Background(), Request{Name: "!!!", Image: "busybox:latest"}); !failure.IsKind(err, failure.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.saga.Provision(context.Background(), Request{Name: "demo"}); !failure.IsKind(err, failure.KindValidation) {
		t.Fatalf("expected validation error for missing image, got %v", err)
	}
	if calls := f.eng.Calls(); len(calls) != 0 {
		t.Fatalf("expected no engine calls, got %v", calls)
	}
}
