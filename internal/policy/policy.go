// Package policy provides action sources for non-human participants.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
)

// Policy produces an action for a participant given the latest observation.
type Policy interface {
	Action(ctx context.Context, participant string, obs any) (any, error)
}

// Static always returns the same action.
type Static struct {
	Value any
}

func (s Static) Action(ctx context.Context, participant string, obs any) (any, error) {
	return s.Value, nil
}

// Random samples uniformly from a fixed action set.
type Random struct {
	Actions []any

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates a random policy over the given action set. A zero seed
// selects a fixed default, keeping experiment runs reproducible.
func NewRandom(actions []any, seed int64) *Random {
	if seed == 0 {
		seed = 1
	}
	return &Random{
		Actions: actions,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (r *Random) Action(ctx context.Context, participant string, obs any) (any, error) {
	if len(r.Actions) == 0 {
		return nil, fmt.Errorf("policy: random policy has no actions")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Actions[r.rng.Intn(len(r.Actions))], nil
}

// Provider is a completion backend for LLM policies.
type Provider interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// LLM asks a completion provider to choose an action index. The prompt
// carries the task description and the participant's observation as JSON;
// the reply is parsed as an index into the action set.
type LLM struct {
	Provider Provider
	Model    string
	Task     string
	Actions  []any
}

func (l *LLM) Action(ctx context.Context, participant string, obs any) (any, error) {
	if l.Provider == nil {
		return nil, fmt.Errorf("policy: llm policy has no provider")
	}
	if len(l.Actions) == 0 {
		return nil, fmt.Errorf("policy: llm policy has no actions")
	}

	obsJSON, err := json.Marshal(obs)
	if err != nil {
		return nil, fmt.Errorf("policy: encode observation: %w", err)
	}

	prompt := fmt.Sprintf(
		"You control participant %s in a simulation.\nTask: %s\nObservation: %s\n"+
			"Choose an action by replying with a single integer between 0 and %d. Reply with the integer only.",
		participant, l.Task, obsJSON, len(l.Actions)-1,
	)

	reply, err := l.Provider.Complete(ctx, l.Model, prompt)
	if err != nil {
		return nil, fmt.Errorf("policy: completion failed: %w", err)
	}

	idx, err := ParseActionIndex(reply, len(l.Actions))
	if err != nil {
		return nil, err
	}
	return l.Actions[idx], nil
}

// ParseActionIndex extracts the first integer from a model reply and bounds-
// checks it against the action set size.
func ParseActionIndex(reply string, numActions int) (int, error) {
	start := -1
	for i, r := range reply {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, fmt.Errorf("policy: no action index in reply %q", strings.TrimSpace(reply))
	}
	end := start
	for end < len(reply) && reply[end] >= '0' && reply[end] <= '9' {
		end++
	}
	idx, err := strconv.Atoi(reply[start:end])
	if err != nil {
		return 0, fmt.Errorf("policy: parse action index: %w", err)
	}
	if idx < 0 || idx >= numActions {
		return 0, fmt.Errorf("policy: action index %d out of range [0, %d)", idx, numActions)
	}
	return idx, nil
}

// Spec values recognized by FromSpec:
//
//	human            — seat is controlled by a person (no policy)
//	random           — uniform over the action set
//	static:<n>       — always action n (an index into the action set)
//	openai:<model>   — OpenAI completion policy
//	gemini:<model>   — Gemini completion policy
const (
	SpecHuman  = "human"
	SpecRandom = "random"
)

// SpecConfig carries the context FromSpec needs to build a policy.
type SpecConfig struct {
	Actions []any
	Task    string
	Seed    int64
	// Keys resolves provider API keys. Required for LLM specs.
	Keys KeySource
}

// KeySource resolves a provider name to an API key.
type KeySource interface {
	Get(name string) (string, error)
}

// FromSpec parses a policy-mapping value. A "human" spec returns a nil
// policy with human=true; everything else returns a policy for a bot seat.
func FromSpec(ctx context.Context, spec string, cfg SpecConfig) (Policy, bool, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == SpecHuman:
		return nil, true, nil
	case spec == SpecRandom:
		return NewRandom(cfg.Actions, cfg.Seed), false, nil
	case strings.HasPrefix(spec, "static:"):
		idx, err := strconv.Atoi(strings.TrimPrefix(spec, "static:"))
		if err != nil {
			return nil, false, fmt.Errorf("policy: bad static spec %q: %w", spec, err)
		}
		if idx < 0 || idx >= len(cfg.Actions) {
			return nil, false, fmt.Errorf("policy: static index %d out of range [0, %d)", idx, len(cfg.Actions))
		}
		return Static{Value: cfg.Actions[idx]}, false, nil
	case strings.HasPrefix(spec, "openai:"):
		model := strings.TrimPrefix(spec, "openai:")
		provider, err := NewOpenAI(ctx, WithKeySource(cfg.Keys))
		if err != nil {
			return nil, false, err
		}
		return &LLM{Provider: provider, Model: model, Task: cfg.Task, Actions: cfg.Actions}, false, nil
	case strings.HasPrefix(spec, "gemini:"):
		model := strings.TrimPrefix(spec, "gemini:")
		provider, err := NewGemini(ctx, WithKeySource(cfg.Keys))
		if err != nil {
			return nil, false, err
		}
		return &LLM{Provider: provider, Model: model, Task: cfg.Task, Actions: cfg.Actions}, false, nil
	}
	return nil, false, fmt.Errorf("policy: unrecognized spec %q", spec)
}
