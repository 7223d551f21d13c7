// Package session drives one driver instance through a full experiment run:
// it paces steps at the configured frame rate, gathers human and bot
// actions, resets between episodes, records results, and emits snapshots.
// One runner serves one session; never share a runner or its driver.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/brazhou04/interactive-gym/internal/alarm"
	"github.com/brazhou04/interactive-gym/internal/configs"
	"github.com/brazhou04/interactive-gym/internal/driver"
	"github.com/brazhou04/interactive-gym/internal/input"
	"github.com/brazhou04/interactive-gym/internal/policy"
	"github.com/brazhou04/interactive-gym/internal/store"
)

// Event names pushed through the Emitter.
const (
	EventSessionState    = "session_state"
	EventEpisodeComplete = "episode_complete"
	EventSessionComplete = "session_complete"
)

// Emitter pushes session events to whatever shell is attached (a websocket
// relay, a desktop bridge, a test). Nil disables emission.
type Emitter interface {
	Emit(event string, payload any)
}

// Snapshot is a point-in-time view of the session for observers.
type Snapshot struct {
	SessionID           string             `json:"sessionId"`
	Name                string             `json:"name"`
	State               driver.State       `json:"state"`
	EpisodeNum          int                `json:"episodeNum"`
	StepNum             int                `json:"stepNum"`
	CumulativeRewards   map[string]float64 `json:"cumulativeRewards"`
	DisplayText         string             `json:"displayText"`
	MedianStepLatencyMs float64            `json:"medianStepLatencyMs"`
	Done                bool               `json:"done"`
}

// Options wires a runner. Config and Driver are required; everything else
// is optional.
type Options struct {
	Config *configs.Config
	Driver *driver.Driver
	// Policies controls bot seats, keyed by participant id. Participants
	// without a policy are human seats read from Input.
	Policies map[string]policy.Policy
	// Input supplies human actions. Nil means every human seat plays the
	// default action.
	Input   *input.Tracker
	Store   *store.Store
	Emitter Emitter
	Logger  *log.Logger
}

// Runner executes one session.
type Runner struct {
	cfg      *configs.Config
	drv      *driver.Driver
	policies map[string]policy.Policy
	tracker  *input.Tracker
	st       *store.Store
	emitter  Emitter
	logger   *log.Logger

	latency *latencyWindow
	limit   *alarm.Alarm

	mu          sync.Mutex
	sessionID   string
	lastObs     map[string]any
	lastActions map[string]any
	lastEmit    time.Time
	totalSteps  int
	totalReward float64
}

// NewRunner validates options and builds a runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("session: config is required")
	}
	if opts.Driver == nil {
		return nil, fmt.Errorf("session: driver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[session] ", log.LstdFlags|log.Lshortfile)
	}
	return &Runner{
		cfg:      opts.Config,
		drv:      opts.Driver,
		policies: opts.Policies,
		tracker:  opts.Input,
		st:       opts.Store,
		emitter:  opts.Emitter,
		logger:   logger,
		latency:  newLatencyWindow(60),
		limit:    alarm.New(),
	}, nil
}

// SessionID returns the persisted session id, empty before Run starts or
// when no store is attached.
func (r *Runner) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Run executes the session to completion: it waits for the driver, then
// steps at the configured frame rate until the episode budget is exhausted,
// the context is cancelled, or the session time limit fires. Run blocks.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.drv.WaitReady(ctx); err != nil {
		return fmt.Errorf("session: driver initialization: %w", err)
	}

	if r.st != nil {
		id, err := r.st.CreateSession(r.cfg.Name, r.cfg)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.sessionID = id
		r.mu.Unlock()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if sec := r.cfg.Exp.SessionTimeLimitSec; sec > 0 {
		r.limit.Schedule(time.Duration(sec)*time.Second, func() {
			r.logger.Printf("session time limit reached after %ds", sec)
			cancel()
		})
		defer r.limit.Cancel()
	}

	if r.tracker != nil {
		r.tracker.Start()
		defer r.tracker.Stop()
	}

	var recorder *store.Recorder
	if r.st != nil {
		recorder = store.NewRecorder(r.st, r.SessionID(), 50)
		defer recorder.Flush()
	}

	if err := r.reset(); err != nil {
		r.endSession("error")
		return err
	}

	interval := time.Duration(float64(time.Second) / r.cfg.Game.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if recorder != nil {
				recorder.Flush()
			}
			r.endSession("cancelled")
			r.emit(EventSessionComplete, r.Snapshot())
			return ctx.Err()
		case <-ticker.C:
		}

		actions, err := r.gatherActions(ctx)
		if err != nil {
			r.endSession("error")
			return err
		}

		start := time.Now()
		res, err := r.drv.Step(actions)
		if err != nil {
			r.endSession("error")
			return fmt.Errorf("session: step: %w", err)
		}
		r.latency.Record(time.Since(start))

		r.mu.Lock()
		r.lastObs = res.Observations
		r.lastActions = actions
		r.totalSteps++
		r.mu.Unlock()

		if recorder != nil {
			recorder.RecordStep(r.drv.EpisodeNum(), r.drv.StepNum(), actions, res.Rewards, time.Since(start))
		}

		r.throttledEmit()

		if r.drv.ShouldReset() {
			r.finishEpisode(recorder)
			if err := r.reset(); err != nil {
				r.endSession("error")
				return err
			}
			continue
		}

		if r.drv.IsDone() {
			r.finishEpisode(recorder)
			if recorder != nil {
				recorder.Flush()
			}
			r.endSession("complete")
			r.emit(EventSessionComplete, r.Snapshot())
			return nil
		}
	}
}

// Snapshot returns the current session view. Safe to call concurrently
// with Run.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	id := r.sessionID
	r.mu.Unlock()

	return Snapshot{
		SessionID:           id,
		Name:                r.cfg.Name,
		State:               r.drv.State(),
		EpisodeNum:          r.drv.EpisodeNum(),
		StepNum:             r.drv.StepNum(),
		CumulativeRewards:   r.drv.CumulativeRewards(),
		DisplayText:         r.drv.DisplayText(),
		MedianStepLatencyMs: float64(r.latency.Median().Microseconds()) / 1000,
		Done:                r.drv.IsDone(),
	}
}

func (r *Runner) reset() error {
	res, err := r.drv.Reset()
	if err != nil {
		return fmt.Errorf("session: reset: %w", err)
	}
	r.mu.Lock()
	r.lastObs = res.Observations
	r.lastActions = nil
	r.mu.Unlock()
	r.emit(EventSessionState, r.Snapshot())
	return nil
}

// gatherActions produces this tick's action for every participant: human
// seats from the input tracker, bot seats from their policy honoring the
// configured frame skip. A failing policy logs and falls back to the
// default action rather than stalling the session.
func (r *Runner) gatherActions(ctx context.Context) (map[string]any, error) {
	participants := r.drv.Participants()
	stepNum := r.drv.StepNum()

	r.mu.Lock()
	lastObs := r.lastObs
	lastActions := r.lastActions
	r.mu.Unlock()

	frameSkip := r.cfg.Police.FrameSkip
	consultBots := frameSkip <= 1 || stepNum%frameSkip == 0 || lastActions == nil

	actions := make(map[string]any, len(participants))
	for _, id := range participants {
		pol, isBot := r.policies[id]
		if !isBot {
			if r.tracker != nil {
				actions[id] = r.tracker.Action(id, r.cfg.Game.ActionMapping, r.cfg.Game.DefaultAction)
			} else {
				actions[id] = r.cfg.Game.DefaultAction
			}
			continue
		}

		if !consultBots {
			if prev, ok := lastActions[id]; ok {
				actions[id] = prev
				continue
			}
		}

		action, err := pol.Action(ctx, id, lastObs[id])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Printf("policy for participant %s failed, using default action: %v", id, err)
			action = r.cfg.Game.DefaultAction
		}
		actions[id] = action
	}
	return actions, nil
}

// finishEpisode persists the episode that just completed and emits the
// completion event. Called while the driver still holds the ended
// episode's cumulative rewards.
func (r *Runner) finishEpisode(recorder *store.Recorder) {
	rewards := r.drv.CumulativeRewards()
	var episodeTotal float64
	for _, v := range rewards {
		episodeTotal += v
	}

	r.mu.Lock()
	r.totalReward += episodeTotal
	r.mu.Unlock()

	if r.st != nil && r.SessionID() != "" {
		if recorder != nil {
			recorder.Flush()
		}
		ep := &store.Episode{
			SessionID:   r.SessionID(),
			EpisodeNum:  r.drv.EpisodeNum() - 1,
			Steps:       r.drv.StepNum(),
			TotalReward: episodeTotal,
			RewardsJSON: mustJSON(rewards),
		}
		if err := r.st.InsertEpisode(ep); err != nil {
			r.logger.Printf("record episode: %v", err)
		}
	}
	r.emit(EventEpisodeComplete, r.Snapshot())
}

func (r *Runner) endSession(finalState string) {
	if r.st == nil || r.SessionID() == "" {
		return
	}
	r.mu.Lock()
	steps := r.totalSteps
	reward := r.totalReward
	r.mu.Unlock()
	if err := r.st.EndSession(r.SessionID(), finalState, r.drv.EpisodeNum(), steps, reward); err != nil {
		r.logger.Printf("end session: %v", err)
	}
}

func (r *Runner) emit(event string, payload any) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(event, payload)
	r.mu.Lock()
	r.lastEmit = time.Now()
	r.mu.Unlock()
}

// throttledEmit emits the session state at most every 100ms.
func (r *Runner) throttledEmit() {
	r.mu.Lock()
	stale := time.Since(r.lastEmit) >= 100*time.Millisecond
	r.mu.Unlock()
	if stale {
		r.emit(EventSessionState, r.Snapshot())
	}
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
