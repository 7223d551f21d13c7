package envs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brazhou04/interactive-gym/internal/configs"
	"github.com/brazhou04/interactive-gym/internal/driver"
)

func TestBuiltinsRegistered(t *testing.T) {
	names := List()
	want := map[string]bool{"bandit": false, "gridworld": false}
	for _, name := range names {
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("built-in %q not registered (have %v)", name, names)
		}
	}
}

func TestGetUnknown(t *testing.T) {
	if _, ok := Get("nosuchenv"); ok {
		t.Fatal("Get returned an unregistered environment")
	}
}

func TestDefaultConfigsValidate(t *testing.T) {
	for _, name := range List() {
		env, _ := Get(name)
		cfg := env.DefaultConfig()
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s default config invalid: %v", name, err)
		}
	}
}

func TestResolveFillsBootstrap(t *testing.T) {
	cfg := configs.New("t").Environment(configs.EnvironmentSection{EnvName: "gridworld"})
	loader, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Env.InitCode == "" {
		t.Fatal("Resolve did not fill init code")
	}
	if len(cfg.Env.Packages) == 0 {
		t.Fatal("Resolve did not fill package list")
	}
	if _, err := loader.Load("gridutils"); err != nil {
		t.Fatalf("loader missing gridutils: %v", err)
	}
}

func TestResolveUnknownEnv(t *testing.T) {
	cfg := configs.New("t").Environment(configs.EnvironmentSection{EnvName: "nosuchenv"})
	if _, err := Resolve(cfg); err == nil {
		t.Fatal("Resolve accepted an unknown environment")
	}
}

func TestResolveKeepsExplicitInitCode(t *testing.T) {
	cfg := configs.New("t").Environment(configs.EnvironmentSection{InitCode: "var env = {};"})
	if _, err := Resolve(cfg); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Env.InitCode != "var env = {};" {
		t.Fatal("Resolve overwrote explicit init code")
	}
}

// An inline bootstrap that installs packages must reach a loader that can
// serve them, end to end through driver initialization.
func TestResolveInlineBootstrapWithPackagesDir(t *testing.T) {
	dir := t.TempDir()
	helper := `var Helpers = { answer: function () { return 42; } };`
	if err := os.WriteFile(filepath.Join(dir, "helpers.js"), []byte(helper), 0o644); err != nil {
		t.Fatalf("write helper package: %v", err)
	}

	cfg := configs.New("inline").
		Environment(configs.EnvironmentSection{
			InitCode: `
var env = {
	reset: function () { return [{ "0": { answer: Helpers.answer() } }, { "0": {} }]; },
	step: function (a) {
		return [{ "0": {} }, { "0": 0 }, { "0": false }, { "0": true }, { "0": {} }];
	},
	render: function () { return []; }
};
`,
			Packages:    []string{"helpers"},
			PackagesDir: dir,
		})

	loader, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	d, err := driver.New(cfg.ToDriver(loader, nil))
	if err != nil {
		t.Fatalf("driver.New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	res, err := d.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	obs, ok := res.Observations["0"].(map[string]any)
	if !ok {
		t.Fatalf("observation shape: %T", res.Observations["0"])
	}
	if obs["answer"] != float64(42) {
		t.Errorf("helper package not installed: answer = %v, want 42", obs["answer"])
	}
}

func TestResolveInlinePackagesWithoutDir(t *testing.T) {
	cfg := configs.New("inline").Environment(configs.EnvironmentSection{
		InitCode: "var env = {};",
		Packages: []string{"helpers"},
	})
	if _, err := Resolve(cfg); err == nil {
		t.Fatal("Resolve produced a loader that cannot serve the listed packages")
	}
}

// bootEnv spins up a driver for a registered environment and waits for it.
func bootEnv(t *testing.T, name string) *driver.Driver {
	t.Helper()
	env, ok := Get(name)
	if !ok {
		t.Fatalf("environment %q not registered", name)
	}
	cfg := env.DefaultConfig()
	loader, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	d, err := driver.New(cfg.ToDriver(loader, nil))
	if err != nil {
		t.Fatalf("driver.New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	return d
}

func TestGridworldBootsAndSteps(t *testing.T) {
	d := bootEnv(t, "gridworld")

	res, err := d.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(res.Observations) != 2 {
		t.Fatalf("gridworld has %d participants, want 2", len(res.Observations))
	}
	if len(res.Render) == 0 {
		t.Fatal("gridworld render state empty")
	}

	// Walk agent 0 right; it must move.
	step, err := d.Step(map[string]any{"0": 4, "1": 0})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	obs0, ok := step.Observations["0"].(map[string]any)
	if !ok {
		t.Fatalf("observation shape: %T", step.Observations["0"])
	}
	if obs0["x"] != float64(1) {
		t.Errorf("agent 0 x = %v after moving right, want 1", obs0["x"])
	}
}

func TestBanditBootsAndPaysOut(t *testing.T) {
	d := bootEnv(t, "bandit")

	if _, err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	step, err := d.Step(map[string]any{"0": 2})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if step.Rewards["0"] != 1 {
		t.Errorf("arm 2 payout = %v, want 1", step.Rewards["0"])
	}
	if step.Terminateds["0"] {
		t.Error("bandit terminated on first pull")
	}
}
