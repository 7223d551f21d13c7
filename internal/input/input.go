// Package input tracks keyboard state per participant and maps it to
// environment actions. A Tracker is an owned component with an explicit
// Start/Stop lifecycle tied to the active screen: Stop clears all held
// state, so nothing leaks across session transitions.
package input

import (
	"sort"
	"sync"
)

// Mode selects how key events translate to actions.
type Mode string

const (
	// ModePressedKeys reports the currently-held key on every poll.
	ModePressedKeys Mode = "pressed_keys"
	// ModeSingleKeystroke reports each keystroke once, then reverts to the
	// default action until the next keystroke.
	ModeSingleKeystroke Mode = "single_keystroke"
)

// Tracker records key state for the participants of one session.
type Tracker struct {
	mu     sync.Mutex
	mode   Mode
	active bool

	// participant -> set of held keys
	held map[string]map[string]bool
	// participant -> oldest unconsumed keystroke (single-keystroke mode)
	queued map[string][]string
}

// NewTracker returns a stopped tracker. Call Start before feeding events.
func NewTracker(mode Mode) *Tracker {
	if mode == "" {
		mode = ModePressedKeys
	}
	return &Tracker{
		mode:   mode,
		held:   map[string]map[string]bool{},
		queued: map[string][]string{},
	}
}

// Mode returns the tracker's input mode.
func (t *Tracker) Mode() Mode {
	return t.mode
}

// Start begins accepting key events.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = true
}

// Stop rejects further events and clears all held and queued state.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	t.held = map[string]map[string]bool{}
	t.queued = map[string][]string{}
}

// Active reports whether the tracker is accepting events.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// KeyDown records a key press for a participant. Ignored while stopped.
func (t *Tracker) KeyDown(participant, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	keys, ok := t.held[participant]
	if !ok {
		keys = map[string]bool{}
		t.held[participant] = keys
	}
	if !keys[key] {
		keys[key] = true
		if t.mode == ModeSingleKeystroke {
			t.queued[participant] = append(t.queued[participant], key)
		}
	}
}

// KeyUp records a key release for a participant. Ignored while stopped.
func (t *Tracker) KeyUp(participant, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	if keys, ok := t.held[participant]; ok {
		delete(keys, key)
	}
}

// Action derives the participant's action from the current key state and the
// key-to-action mapping. When no mapped key applies, def is returned.
func (t *Tracker) Action(participant string, mapping map[string]any, def any) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return def
	}

	switch t.mode {
	case ModeSingleKeystroke:
		queue := t.queued[participant]
		for len(queue) > 0 {
			key := queue[0]
			queue = queue[1:]
			if action, ok := mapping[key]; ok {
				t.queued[participant] = queue
				return action
			}
		}
		t.queued[participant] = queue
		return def
	default:
		keys := t.held[participant]
		if len(keys) == 0 {
			return def
		}
		// Deterministic pick when multiple mapped keys are held.
		ordered := make([]string, 0, len(keys))
		for k := range keys {
			ordered = append(ordered, k)
		}
		sort.Strings(ordered)
		for _, key := range ordered {
			if action, ok := mapping[key]; ok {
				return action
			}
		}
		return def
	}
}
