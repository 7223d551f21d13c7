// Package driver owns an embedded JavaScript interpreter running a
// user-supplied simulation environment, and exposes a reset/step contract
// that yields host-native observations, rewards, and sanitized render state.
//
// One driver instance serves one session. Reset and Step must be serialized
// by the caller: the interpreter executes one call at a time and there is no
// timeout or interrupt for an in-flight call — a hang in environment code
// blocks that call indefinitely. Snapshot accessors (State, IsDone,
// StepNum, ...) are safe to read concurrently.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/brazhou04/interactive-gym/internal/rendering"
)

// State represents the driver's lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateStepping      State = "stepping"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

var (
	// ErrNotReady is returned when the runtime has not finished initializing.
	ErrNotReady = errors.New("driver is not ready")
	// ErrDone is returned once the episode budget is exhausted.
	ErrDone = errors.New("episode budget exhausted")
	// ErrNotStarted is returned by Step before the first Reset.
	ErrNotStarted = errors.New("environment not reset yet")
	// ErrNeedsReset is returned by Step after an episode ended with episodes
	// remaining; the caller must Reset first.
	ErrNeedsReset = errors.New("episode ended, reset required before stepping")
	// ErrEpisodeActive is returned by Reset while an episode is in progress.
	ErrEpisodeActive = errors.New("reset not allowed while an episode is active")
)

// HUD is the rendering collaborator for the score/time overlay. The driver
// shows it on reset and refreshes its text after every reset and step; it
// does not depend on how the overlay is drawn.
type HUD interface {
	SetVisible(visible bool)
	SetText(text string)
}

// Config supplies everything the driver needs to boot an environment.
type Config struct {
	// InitCode is the environment bootstrap source. It must bind a global
	// `env` object with reset/step/render callables.
	InitCode string
	// OnStepCode, when set, runs inside the interpreter before each
	// env.step call.
	OnStepCode string
	// Packages are evaluated into the runtime before InitCode, resolved
	// through Loader.
	Packages []string
	Loader   PackageLoader

	// NumEpisodes is the episode budget for the session.
	NumEpisodes int
	// MaxSteps and FPS feed the display-time computation only; the
	// environment owns its own horizon via truncation flags.
	MaxSteps int
	FPS      float64

	HUD    HUD
	Logger *log.Logger
}

func (c Config) validate() error {
	if strings.TrimSpace(c.InitCode) == "" {
		return fmt.Errorf("environment initialization code is required")
	}
	if c.NumEpisodes <= 0 {
		return fmt.Errorf("num episodes must be positive, got %d", c.NumEpisodes)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max steps must be positive, got %d", c.MaxSteps)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %v", c.FPS)
	}
	return nil
}

// ResetResult carries the converted outputs of env.reset plus the rendered
// frame.
type ResetResult struct {
	Observations map[string]any     `json:"observations"`
	Infos        map[string]any     `json:"infos"`
	Render       []rendering.Object `json:"render"`
}

// StepResult carries the six converted outputs of one step.
type StepResult struct {
	Observations map[string]any     `json:"observations"`
	Rewards      map[string]float64 `json:"rewards"`
	Terminateds  map[string]bool    `json:"terminateds"`
	Truncateds   map[string]bool    `json:"truncateds"`
	Infos        map[string]any     `json:"infos"`
	Render       []rendering.Object `json:"render"`
}

// Driver is the embedded-environment driver.
type Driver struct {
	mu sync.Mutex

	cfg    Config
	logger *log.Logger

	rt  *goja.Runtime
	env *goja.Object

	state   State
	initErr error
	ready   chan struct{}

	started     bool
	shouldReset bool
	stepNum     int
	episodeNum  int

	participants []string
	cumulative   map[string]float64
}

// New validates the config and begins asynchronous initialization. The call
// never blocks on the interpreter; observe readiness via Ready or WaitReady.
func New(cfg Config) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[driver] ", log.LstdFlags|log.Lshortfile)
	}
	d := &Driver{
		cfg:        cfg,
		logger:     logger,
		state:      StateInitializing,
		ready:      make(chan struct{}),
		cumulative: map[string]float64{},
	}
	go d.initialize()
	return d, nil
}

// initialize runs once: build the runtime, install packages, execute the
// bootstrap, verify the env binding. Any failure here is fatal for this
// instance — the caller must discard and reconstruct.
func (d *Driver) initialize() {
	defer close(d.ready)

	rt := newRuntime(d.logger)

	if err := installPackages(rt, d.cfg.Loader, d.cfg.Packages); err != nil {
		d.fail(err)
		return
	}

	if _, err := rt.RunString(d.cfg.InitCode); err != nil {
		d.fail(fmt.Errorf("environment initialization code failed: %w", err))
		return
	}

	envVal := rt.Get("env")
	if envVal == nil || goja.IsUndefined(envVal) || goja.IsNull(envVal) {
		d.fail(fmt.Errorf("environment initialization code must bind a global env object"))
		return
	}
	envObj, ok := envVal.(*goja.Object)
	if !ok {
		d.fail(fmt.Errorf("env is bound but is not an object"))
		return
	}

	d.mu.Lock()
	d.rt = rt
	d.env = envObj
	d.state = StateReady
	d.mu.Unlock()
}

func (d *Driver) fail(err error) {
	d.mu.Lock()
	d.state = StateFailed
	d.initErr = err
	d.mu.Unlock()
	d.logger.Printf("initialization failed: %v", err)
}

// Ready reports whether initialization finished successfully.
func (d *Driver) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rt != nil
}

// WaitReady blocks until initialization finishes or ctx expires. It returns
// the fatal initialization error, if any.
func (d *Driver) WaitReady(ctx context.Context) error {
	select {
	case <-d.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initErr
}

// Err returns the fatal initialization error, if any.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initErr
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == "" {
		return StateUninitialized
	}
	return d.state
}

// IsDone reports whether the episode budget is exhausted.
func (d *Driver) IsDone() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateDone
}

// ShouldReset reports whether an episode ended and Reset must be called
// before the next Step.
func (d *Driver) ShouldReset() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shouldReset
}

// StepNum returns the step counter within the current episode.
func (d *Driver) StepNum() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stepNum
}

// EpisodeNum returns the number of completed episodes.
func (d *Driver) EpisodeNum() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.episodeNum
}

// Participants returns the participant ids from the most recent reset,
// sorted numerically.
func (d *Driver) Participants() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.participants))
	copy(out, d.participants)
	return out
}

// CumulativeRewards returns a copy of the per-participant reward totals for
// the current episode.
func (d *Driver) CumulativeRewards() map[string]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]float64, len(d.cumulative))
	for k, v := range d.cumulative {
		out[k] = v
	}
	return out
}

// Reset starts a new episode. Valid only before the first episode, or after
// an episode ended with episodes remaining.
func (d *Driver) Reset() (*ResetResult, error) {
	d.mu.Lock()
	if err := d.guardLocked(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if d.started && !d.shouldReset {
		d.mu.Unlock()
		return nil, ErrEpisodeActive
	}
	d.mu.Unlock()

	resetVal, err := d.callEnv("reset")
	if err != nil {
		return nil, err
	}
	parts, err := tupleValues(resetVal, 2, "env.reset must return [observations, infos]")
	if err != nil {
		return nil, err
	}
	obs, err := hostAnyMap(parts[0], "observations")
	if err != nil {
		return nil, err
	}
	infos, err := hostAnyMap(parts[1], "infos")
	if err != nil {
		return nil, err
	}
	objects, err := d.renderFrame()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.stepNum = 0
	d.started = true
	d.shouldReset = false
	d.participants = sortedParticipants(obs)
	d.cumulative = make(map[string]float64, len(d.participants))
	for _, id := range d.participants {
		d.cumulative[id] = 0
	}
	text := d.displayTextLocked()
	hud := d.cfg.HUD
	d.mu.Unlock()

	if hud != nil {
		hud.SetVisible(true)
		hud.SetText(text)
	}

	return &ResetResult{Observations: obs, Infos: infos, Render: objects}, nil
}

// Step advances the environment one tick. The actions mapping is keyed by
// participant id; ids must be numeric (see interpActions).
func (d *Driver) Step(actions map[string]any) (*StepResult, error) {
	d.mu.Lock()
	if err := d.guardLocked(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if !d.started {
		d.mu.Unlock()
		return nil, ErrNotStarted
	}
	if d.shouldReset {
		d.mu.Unlock()
		return nil, ErrNeedsReset
	}
	d.state = StateStepping
	rt := d.rt
	d.mu.Unlock()

	res, err := d.stepEnv(rt, actions)

	d.mu.Lock()
	if err != nil {
		// The error belongs to the caller; the episode is considered
		// poisoned but the driver's own lifecycle is intact.
		d.state = StateReady
		d.mu.Unlock()
		return nil, err
	}

	for id, r := range res.Rewards {
		if _, known := d.cumulative[id]; known {
			d.cumulative[id] += r
		}
	}
	d.stepNum++

	if allTrue(res.Terminateds) || allTrue(res.Truncateds) {
		d.episodeNum++
		if d.episodeNum >= d.cfg.NumEpisodes {
			d.state = StateDone
		} else {
			d.shouldReset = true
			d.state = StateReady
		}
	} else {
		d.state = StateReady
	}
	text := d.displayTextLocked()
	hud := d.cfg.HUD
	d.mu.Unlock()

	if hud != nil {
		hud.SetText(text)
	}
	return res, nil
}

func (d *Driver) stepEnv(rt *goja.Runtime, actions map[string]any) (*StepResult, error) {
	if d.cfg.OnStepCode != "" {
		if _, err := rt.RunString(d.cfg.OnStepCode); err != nil {
			return nil, fmt.Errorf("on-step code failed: %w", err)
		}
	}

	actionObj, err := interpActions(rt, actions)
	if err != nil {
		return nil, err
	}

	stepVal, err := d.callEnv("step", actionObj)
	if err != nil {
		return nil, err
	}
	parts, err := tupleValues(stepVal, 5,
		"env.step must return [observations, rewards, terminateds, truncateds, infos]")
	if err != nil {
		return nil, err
	}

	obs, err := hostAnyMap(parts[0], "observations")
	if err != nil {
		return nil, err
	}
	rewards, err := hostFloatMap(parts[1], "rewards")
	if err != nil {
		return nil, err
	}
	terminateds, err := hostBoolMap(parts[2], "terminateds")
	if err != nil {
		return nil, err
	}
	truncateds, err := hostBoolMap(parts[3], "truncateds")
	if err != nil {
		return nil, err
	}
	infos, err := hostAnyMap(parts[4], "infos")
	if err != nil {
		return nil, err
	}
	objects, err := d.renderFrame()
	if err != nil {
		return nil, err
	}

	return &StepResult{
		Observations: obs,
		Rewards:      rewards,
		Terminateds:  terminateds,
		Truncateds:   truncateds,
		Infos:        infos,
		Render:       objects,
	}, nil
}

// SetGlobal publishes a host value under the interactiveGymGlobals object,
// readable by environment and on-step code. Like Reset and Step, calls must
// be serialized with other interpreter operations.
func (d *Driver) SetGlobal(name string, value any) error {
	d.mu.Lock()
	rt := d.rt
	d.mu.Unlock()
	if rt == nil {
		return ErrNotReady
	}
	globalsVal := rt.Get("interactiveGymGlobals")
	globals, ok := globalsVal.(*goja.Object)
	if !ok {
		globals = rt.NewObject()
		rt.Set("interactiveGymGlobals", globals)
	}
	jv, err := interpValue(rt, value)
	if err != nil {
		return fmt.Errorf("global %q: %w", name, err)
	}
	return globals.Set(name, jv)
}

// DisplayText derives the HUD string: the lowest-numbered participant's
// cumulative reward and the remaining display time (MaxSteps-stepNum)/FPS.
func (d *Driver) DisplayText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.displayTextLocked()
}

func (d *Driver) displayTextLocked() string {
	var score float64
	if len(d.participants) > 0 {
		score = d.cumulative[d.participants[0]]
	}
	remaining := float64(d.cfg.MaxSteps-d.stepNum) / d.cfg.FPS
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("Score: %02.0f | Time Left: %04.1fs", score, remaining)
}

// guardLocked rejects operations in non-operable states. Callers hold d.mu.
func (d *Driver) guardLocked() error {
	switch d.state {
	case StateInitializing, StateUninitialized, "":
		return ErrNotReady
	case StateFailed:
		return fmt.Errorf("driver failed to initialize: %w", d.initErr)
	case StateDone:
		return ErrDone
	case StateStepping:
		return fmt.Errorf("interpreter call already in flight")
	}
	return nil
}

func (d *Driver) renderFrame() ([]rendering.Object, error) {
	renderVal, err := d.callEnv("render")
	if err != nil {
		return nil, err
	}
	objects, err := hostObjects(renderVal, "env.render result")
	if err != nil {
		return nil, err
	}
	return rendering.SanitizeObjects(objects), nil
}

func (d *Driver) callEnv(name string, args ...goja.Value) (goja.Value, error) {
	fn := d.env.Get(name)
	if fn == nil || goja.IsUndefined(fn) || goja.IsNull(fn) {
		return nil, fmt.Errorf("env.%s is not defined", name)
	}
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, fmt.Errorf("env.%s is not a function", name)
	}
	out, err := callable(d.env, args...)
	if err != nil {
		return nil, fmt.Errorf("env.%s: %w", name, err)
	}
	return out, nil
}

// tupleValues unpacks an interpreter-side tuple (an array of fixed length).
func tupleValues(v goja.Value, want int, msg string) ([]goja.Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, errors.New(msg)
	}
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return nil, errors.New(msg)
	}
	if toLength(obj) != want {
		return nil, errors.New(msg)
	}
	out := make([]goja.Value, want)
	for i := 0; i < want; i++ {
		out[i] = obj.Get(strconv.Itoa(i))
	}
	return out, nil
}

// allTrue reports whether a non-empty flag set is uniformly true. An empty
// set is not complete: a vacuous pass would end an episode on malformed
// environment output.
func allTrue(flags map[string]bool) bool {
	if len(flags) == 0 {
		return false
	}
	for _, v := range flags {
		if !v {
			return false
		}
	}
	return true
}

func sortedParticipants(obs map[string]any) []string {
	ids := make([]string, 0, len(obs))
	for id := range obs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, aerr := strconv.Atoi(ids[i])
		b, berr := strconv.Atoi(ids[j])
		if aerr != nil || berr != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})
	return ids
}
