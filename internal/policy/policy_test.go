package policy

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeProvider replays canned completions and records prompts.
type fakeProvider struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeProvider) Complete(ctx context.Context, model, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func TestStaticPolicy(t *testing.T) {
	p := Static{Value: 3}
	got, err := p.Action(context.Background(), "0", nil)
	if err != nil {
		t.Fatalf("Action: %v", err)
	}
	if got != 3 {
		t.Fatalf("Action = %v, want 3", got)
	}
}

func TestRandomPolicyStaysInSet(t *testing.T) {
	actions := []any{0, 1, 2, 3}
	p := NewRandom(actions, 42)

	seen := map[any]bool{}
	for i := 0; i < 200; i++ {
		got, err := p.Action(context.Background(), "0", nil)
		if err != nil {
			t.Fatalf("Action: %v", err)
		}
		found := false
		for _, a := range actions {
			if got == a {
				found = true
			}
		}
		if !found {
			t.Fatalf("Action returned %v, not in action set", got)
		}
		seen[got] = true
	}
	if len(seen) < 2 {
		t.Errorf("random policy returned only %d distinct actions over 200 draws", len(seen))
	}
}

func TestLLMPolicyParsesReply(t *testing.T) {
	provider := &fakeProvider{reply: "I choose action 2."}
	p := &LLM{
		Provider: provider,
		Model:    "test-model",
		Task:     "collect the deliveries",
		Actions:  []any{"noop", "up", "down"},
	}

	got, err := p.Action(context.Background(), "1", map[string]any{"x": 4})
	if err != nil {
		t.Fatalf("Action: %v", err)
	}
	if got != "down" {
		t.Fatalf("Action = %v, want down", got)
	}

	if len(provider.prompts) != 1 {
		t.Fatalf("provider called %d times, want 1", len(provider.prompts))
	}
	prompt := provider.prompts[0]
	if !strings.Contains(prompt, "collect the deliveries") {
		t.Error("prompt missing task description")
	}
	if !strings.Contains(prompt, `{"x":4}`) {
		t.Error("prompt missing observation JSON")
	}
}

func TestLLMPolicySurfacesProviderError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("rate limited")}
	p := &LLM{Provider: provider, Actions: []any{0, 1}}

	if _, err := p.Action(context.Background(), "0", nil); err == nil {
		t.Fatal("Action succeeded despite provider error")
	}
}

func TestParseActionIndex(t *testing.T) {
	cases := []struct {
		reply   string
		num     int
		want    int
		wantErr bool
	}{
		{"2", 4, 2, false},
		{"Action: 1", 4, 1, false},
		{"  3\n", 4, 3, false},
		{"12", 20, 12, false},
		{"5", 4, 0, true},
		{"none", 4, 0, true},
	}
	for _, tc := range cases {
		got, err := ParseActionIndex(tc.reply, tc.num)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseActionIndex(%q) succeeded, want error", tc.reply)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseActionIndex(%q): %v", tc.reply, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseActionIndex(%q) = %d, want %d", tc.reply, got, tc.want)
		}
	}
}

func TestFromSpecHuman(t *testing.T) {
	p, human, err := FromSpec(context.Background(), "human", SpecConfig{})
	if err != nil {
		t.Fatalf("FromSpec: %v", err)
	}
	if !human || p != nil {
		t.Fatalf("FromSpec(human) = (%v, %v), want (nil, true)", p, human)
	}
}

func TestFromSpecRandomAndStatic(t *testing.T) {
	cfg := SpecConfig{Actions: []any{10, 20, 30}}

	p, human, err := FromSpec(context.Background(), "random", cfg)
	if err != nil || human {
		t.Fatalf("FromSpec(random) = (_, %v, %v)", human, err)
	}
	if _, ok := p.(*Random); !ok {
		t.Fatalf("FromSpec(random) returned %T", p)
	}

	p, _, err = FromSpec(context.Background(), "static:1", cfg)
	if err != nil {
		t.Fatalf("FromSpec(static:1): %v", err)
	}
	got, _ := p.Action(context.Background(), "0", nil)
	if got != 20 {
		t.Fatalf("static:1 action = %v, want 20", got)
	}

	if _, _, err := FromSpec(context.Background(), "static:9", cfg); err == nil {
		t.Error("FromSpec(static:9) succeeded with out-of-range index")
	}
}

func TestFromSpecUnrecognized(t *testing.T) {
	if _, _, err := FromSpec(context.Background(), "alphazero", SpecConfig{}); err == nil {
		t.Fatal("FromSpec(alphazero) succeeded")
	}
}
