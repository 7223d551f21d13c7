package driver

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

// twoAgentEnv terminates both agents once each has received a stop action
// (action 9). Rewards one point per agent per step.
const twoAgentEnv = `
var env = (function () {
	var stopped = { "0": false, "1": false };
	return {
		reset: function () {
			stopped = { "0": false, "1": false };
			return [{ "0": { ready: true }, "1": { ready: true } }, { "0": {}, "1": {} }];
		},
		step: function (actions) {
			if (actions["0"] === 9) stopped["0"] = true;
			if (actions["1"] === 9) stopped["1"] = true;
			return [
				{ "0": {}, "1": {} },
				{ "0": 1, "1": 1 },
				{ "0": stopped["0"], "1": stopped["1"] },
				{ "0": false, "1": false },
				{ "0": {}, "1": {} }
			];
		},
		render: function () { return []; }
	};
})();
`

const singleAgentEnv = `
var env = {
	reset: function () { return [{ "0": {} }, { "0": {} }]; },
	step: function (actions) {
		return [{ "0": {} }, { "0": 2 }, { "0": actions["0"] === 9 }, { "0": false }, { "0": {} }];
	},
	render: function () { return []; }
};
`

func testDriverConfig(initCode string) Config {
	return Config{
		InitCode:    initCode,
		NumEpisodes: 1,
		MaxSteps:    1000,
		FPS:         30,
		Logger:      log.New(io.Discard, "", 0),
	}
}

func newReadyDriver(t *testing.T, cfg Config) *Driver {
	t.Helper()
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	return d
}

func TestInitializeReady(t *testing.T) {
	d := newReadyDriver(t, testDriverConfig(singleAgentEnv))
	if !d.Ready() {
		t.Error("driver not ready after successful init")
	}
	if got := d.State(); got != StateReady {
		t.Errorf("state = %q, want ready", got)
	}
	if d.IsDone() {
		t.Error("fresh driver reports done")
	}
}

func TestInitializeFailsWithoutEnvBinding(t *testing.T) {
	d, err := New(testDriverConfig(`var notEnv = 1;`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = d.WaitReady(ctx)
	if err == nil {
		t.Fatal("init succeeded without an env binding")
	}
	if !strings.Contains(err.Error(), "env") {
		t.Errorf("error %q does not mention env", err)
	}
	if got := d.State(); got != StateFailed {
		t.Errorf("state = %q, want failed", got)
	}
	if _, rerr := d.Reset(); rerr == nil {
		t.Error("Reset succeeded on a failed driver")
	}
}

func TestInitializeFailsOnBadSource(t *testing.T) {
	d, err := New(testDriverConfig(`this is not javascript`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.WaitReady(ctx); err == nil {
		t.Fatal("init succeeded with a syntax error in the bootstrap")
	}
}

func TestResetEstablishesParticipants(t *testing.T) {
	d := newReadyDriver(t, testDriverConfig(twoAgentEnv))

	res, err := d.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(res.Observations) != 2 {
		t.Fatalf("observations for %d participants, want 2", len(res.Observations))
	}
	if got := d.Participants(); len(got) != 2 || got[0] != "0" || got[1] != "1" {
		t.Errorf("participants = %v, want [0 1]", got)
	}
	rewards := d.CumulativeRewards()
	for id, v := range rewards {
		if v != 0 {
			t.Errorf("cumulative[%s] = %v after reset, want 0", id, v)
		}
	}
	if d.StepNum() != 0 {
		t.Errorf("step num = %d after reset, want 0", d.StepNum())
	}
}

func TestResetRejectedMidEpisode(t *testing.T) {
	d := newReadyDriver(t, testDriverConfig(singleAgentEnv))
	if _, err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := d.Step(map[string]any{"0": 0}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if _, err := d.Reset(); !errors.Is(err, ErrEpisodeActive) {
		t.Fatalf("mid-episode Reset = %v, want ErrEpisodeActive", err)
	}
}

func TestStepBeforeReset(t *testing.T) {
	d := newReadyDriver(t, testDriverConfig(singleAgentEnv))
	if _, err := d.Step(map[string]any{"0": 0}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Step before Reset = %v, want ErrNotStarted", err)
	}
}

func TestStepAccumulatesRewards(t *testing.T) {
	d := newReadyDriver(t, testDriverConfig(singleAgentEnv))
	if _, err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	for i := 1; i <= 3; i++ {
		res, err := d.Step(map[string]any{"0": 0})
		if err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
		if res.Rewards["0"] != 2 {
			t.Errorf("step %d reward = %v, want 2", i, res.Rewards["0"])
		}
		if d.StepNum() != i {
			t.Errorf("step num = %d, want %d", d.StepNum(), i)
		}
	}
	if got := d.CumulativeRewards()["0"]; got != 6 {
		t.Errorf("cumulative reward = %v, want 6", got)
	}
}

func TestEpisodeEndsOnlyWhenAllTerminated(t *testing.T) {
	d := newReadyDriver(t, testDriverConfig(twoAgentEnv))
	if _, err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	// Only participant 0 stops; the episode must continue.
	res, err := d.Step(map[string]any{"0": 9, "1": 0})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !res.Terminateds["0"] || res.Terminateds["1"] {
		t.Fatalf("terminateds = %v, want 0 stopped only", res.Terminateds)
	}
	if d.EpisodeNum() != 0 {
		t.Errorf("episode counted with one participant still active")
	}
	if d.IsDone() {
		t.Error("driver done with one participant still active")
	}

	// Now both stop.
	if _, err := d.Step(map[string]any{"0": 9, "1": 9}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if d.EpisodeNum() != 1 {
		t.Errorf("episode num = %d, want 1", d.EpisodeNum())
	}
	if !d.IsDone() {
		t.Error("driver not done after the only episode ended")
	}
}

func TestTruncationEndsEpisode(t *testing.T) {
	truncEnv := `
var env = {
	reset: function () { return [{ "0": {} }, { "0": {} }]; },
	step: function (a) {
		return [{ "0": {} }, { "0": 0 }, { "0": false }, { "0": true }, { "0": {} }];
	},
	render: function () { return []; }
};
`
	d := newReadyDriver(t, testDriverConfig(truncEnv))
	if _, err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := d.Step(map[string]any{"0": 0}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !d.IsDone() {
		t.Error("truncation did not end the episode")
	}
}

func TestEpisodeBudget(t *testing.T) {
	cfg := testDriverConfig(singleAgentEnv)
	cfg.NumEpisodes = 2
	d := newReadyDriver(t, cfg)

	if _, err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := d.Step(map[string]any{"0": 9}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	// Episode 1 of 2 done: stepping requires a reset, the driver is not done.
	if d.IsDone() {
		t.Fatal("done after episode 1 of 2")
	}
	if !d.ShouldReset() {
		t.Fatal("should-reset not set after episode end")
	}
	if _, err := d.Step(map[string]any{"0": 0}); !errors.Is(err, ErrNeedsReset) {
		t.Fatalf("Step after episode end = %v, want ErrNeedsReset", err)
	}

	if _, err := d.Reset(); err != nil {
		t.Fatalf("Reset for episode 2: %v", err)
	}
	if d.StepNum() != 0 {
		t.Errorf("step num = %d after reset, want 0", d.StepNum())
	}
	if _, err := d.Step(map[string]any{"0": 9}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	// Budget exhausted.
	if !d.IsDone() {
		t.Fatal("not done after episode 2 of 2")
	}
	if _, err := d.Step(map[string]any{"0": 0}); !errors.Is(err, ErrDone) {
		t.Fatalf("Step when done = %v, want ErrDone", err)
	}
	if _, err := d.Reset(); !errors.Is(err, ErrDone) {
		t.Fatalf("Reset when done = %v, want ErrDone", err)
	}
}

func TestNonNumericParticipantID(t *testing.T) {
	d := newReadyDriver(t, testDriverConfig(singleAgentEnv))
	if _, err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	_, err := d.Step(map[string]any{"player": 0})
	if err == nil {
		t.Fatal("Step accepted a non-numeric participant id")
	}
	if !strings.Contains(err.Error(), "not numeric") {
		t.Errorf("error = %v, want non-numeric id rejection", err)
	}
}

func TestOnStepCodeRuns(t *testing.T) {
	env := `
var ticks = 0;
var env = {
	reset: function () { return [{ "0": {} }, { "0": {} }]; },
	step: function (a) {
		return [{ "0": {} }, { "0": 0 }, { "0": false }, { "0": false }, { "0": { ticks: ticks } }];
	},
	render: function () { return []; }
};
`
	cfg := testDriverConfig(env)
	cfg.OnStepCode = `ticks += 1;`
	d := newReadyDriver(t, cfg)

	if _, err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	var res *StepResult
	var err error
	for i := 0; i < 2; i++ {
		if res, err = d.Step(map[string]any{"0": 0}); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	info, ok := res.Infos["0"].(map[string]any)
	if !ok {
		t.Fatalf("info shape = %T", res.Infos["0"])
	}
	if info["ticks"] != float64(2) {
		t.Errorf("ticks = %v, want 2", info["ticks"])
	}
}

func TestStepErrorLeavesDriverOperable(t *testing.T) {
	env := `
var env = {
	reset: function () { return [{ "0": {} }, { "0": {} }]; },
	step: function (a) {
		if (a["0"] === 1) throw new Error("boom");
		return [{ "0": {} }, { "0": 0 }, { "0": false }, { "0": false }, { "0": {} }];
	},
	render: function () { return []; }
};
`
	d := newReadyDriver(t, testDriverConfig(env))
	if _, err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	_, err := d.Step(map[string]any{"0": 1})
	if err == nil {
		t.Fatal("Step swallowed the environment error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %v, want the thrown message", err)
	}
	if got := d.State(); got != StateReady {
		t.Errorf("state after step error = %q, want ready", got)
	}
	if _, err := d.Step(map[string]any{"0": 0}); err != nil {
		t.Errorf("Step after recovered error: %v", err)
	}
}

func TestPackageInstall(t *testing.T) {
	cfg := testDriverConfig(`
var env = {
	reset: function () { return [{ "0": { doubled: MathUtils.double(21) } }, { "0": {} }]; },
	step: function (a) {
		return [{ "0": {} }, { "0": 0 }, { "0": false }, { "0": false }, { "0": {} }];
	},
	render: function () { return []; }
};
`)
	cfg.Packages = []string{"mathutils"}
	cfg.Loader = MapLoader{
		"mathutils": `var MathUtils = { double: function (n) { return n * 2; } };`,
	}
	d := newReadyDriver(t, cfg)

	res, err := d.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	obs, ok := res.Observations["0"].(map[string]any)
	if !ok {
		t.Fatalf("observation shape = %T", res.Observations["0"])
	}
	if obs["doubled"] != float64(42) {
		t.Errorf("doubled = %v, want 42", obs["doubled"])
	}
}

func TestMissingPackageIsFatal(t *testing.T) {
	cfg := testDriverConfig(singleAgentEnv)
	cfg.Packages = []string{"missing"}
	cfg.Loader = MapLoader{}
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = d.WaitReady(ctx)
	if err == nil {
		t.Fatal("init succeeded with an unresolvable package")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error = %v, want the package name", err)
	}
}

func TestSetGlobal(t *testing.T) {
	env := `
var env = {
	reset: function () { return [{ "0": {} }, { "0": {} }]; },
	step: function (a) {
		return [{ "0": {} }, { "0": 0 }, { "0": false }, { "0": false },
			{ "0": { difficulty: interactiveGymGlobals.difficulty } }];
	},
	render: function () { return []; }
};
`
	d := newReadyDriver(t, testDriverConfig(env))
	if err := d.SetGlobal("difficulty", "hard"); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}
	if _, err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	res, err := d.Step(map[string]any{"0": 0})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	info := res.Infos["0"].(map[string]any)
	if info["difficulty"] != "hard" {
		t.Errorf("difficulty = %v, want hard", info["difficulty"])
	}
}

type recordingHUD struct {
	mu      sync.Mutex
	visible bool
	texts   []string
}

func (h *recordingHUD) SetVisible(visible bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.visible = visible
}

func (h *recordingHUD) SetText(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.texts = append(h.texts, text)
}

func TestHUDUpdates(t *testing.T) {
	hud := &recordingHUD{}
	cfg := testDriverConfig(singleAgentEnv)
	cfg.HUD = hud
	d := newReadyDriver(t, cfg)

	if _, err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := d.Step(map[string]any{"0": 0}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	hud.mu.Lock()
	defer hud.mu.Unlock()
	if !hud.visible {
		t.Error("HUD not shown on reset")
	}
	if len(hud.texts) != 2 {
		t.Fatalf("HUD text updates = %d, want 2 (reset + step)", len(hud.texts))
	}
	if !strings.HasPrefix(hud.texts[0], "Score: ") {
		t.Errorf("HUD text = %q", hud.texts[0])
	}
}

func TestDisplayTextFormat(t *testing.T) {
	d := &Driver{
		cfg:          Config{MaxSteps: 1000, FPS: 30},
		state:        StateReady,
		participants: []string{"0", "1"},
		cumulative:   map[string]float64{"0": 7, "1": 99},
		stepNum:      950,
	}
	// Score comes from the lowest-numbered participant; remaining time is
	// (1000-950)/30 = 1.666s.
	if got := d.DisplayText(); got != "Score: 07 | Time Left: 01.7s" {
		t.Errorf("display text = %q", got)
	}
}

func TestDisplayTextClampsAtZero(t *testing.T) {
	d := &Driver{
		cfg:          Config{MaxSteps: 100, FPS: 30},
		state:        StateReady,
		participants: []string{"0"},
		cumulative:   map[string]float64{"0": 3},
		stepNum:      150,
	}
	if got := d.DisplayText(); got != "Score: 03 | Time Left: 00.0s" {
		t.Errorf("display text = %q", got)
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"empty init code", func(c *Config) { c.InitCode = " " }},
		{"zero episodes", func(c *Config) { c.NumEpisodes = 0 }},
		{"zero max steps", func(c *Config) { c.MaxSteps = 0 }},
		{"zero fps", func(c *Config) { c.FPS = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testDriverConfig(singleAgentEnv)
			tc.mod(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("New accepted an invalid config")
			}
		})
	}
}

func TestRenderSanitized(t *testing.T) {
	env := `
var env = {
	reset: function () { return [{ "0": {} }, { "0": {} }]; },
	step: function (a) {
		return [{ "0": {} }, { "0": 0 }, { "0": false }, { "0": false }, { "0": {} }];
	},
	render: function () {
		return [{ uuid: "s1", x: 10, y: undefined, depth: null }];
	}
};
`
	d := newReadyDriver(t, testDriverConfig(env))
	res, err := d.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(res.Render) != 1 {
		t.Fatalf("render objects = %d, want 1", len(res.Render))
	}
	obj := res.Render[0]
	if obj["x"] != float64(10) {
		t.Errorf("x = %v, want 10", obj["x"])
	}
	// Undefined and null both surface as nil after sanitization.
	if v, ok := obj["y"]; !ok || v != nil {
		t.Errorf("y = %v (present=%v), want nil", v, ok)
	}
	if v, ok := obj["depth"]; !ok || v != nil {
		t.Errorf("depth = %v (present=%v), want nil", v, ok)
	}
}
