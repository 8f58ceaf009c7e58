package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeRunner replays a scripted sequence of attempt errors.
type fakeRunner struct {
	mu    sync.Mutex
	errs  []error
	calls []Request
}

func (f *fakeRunner) Run(_ context.Context, req Request, onEvent func(Event)) (*AttemptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, req)

	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return &AttemptResult{Outcome: OutcomeFailure, Pattern: req.Pattern}, err
	}
	if onEvent != nil {
		onEvent(Event{Kind: EventFinalResult, Text: "ok:" + req.Pattern})
	}
	return &AttemptResult{
		Outcome:  OutcomeSuccess,
		Pattern:  req.Pattern,
		Response: &Response{Text: "ok:" + req.Pattern},
	}, nil
}

func permissionErr() error {
	return &ProcessError{Kind: KindPermissionDenied, ExitCode: 1, Stderr: "Error: Permission denied for tool Bash(rm:*)"}
}

func TestEscalatorWalksPatterns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		patterns     []string
		errs         []error
		wantCalls    int
		wantPattern  string
		wantErrIs    error
		wantExhaust  bool
		wantCategory Category
	}{
		{
			name:        "first pattern succeeds",
			patterns:    []string{"p1", "p2", "p3"},
			wantCalls:   1,
			wantPattern: "p1",
		},
		{
			name:        "escalates past permission failures",
			patterns:    []string{"p1", "p2", "p3"},
			errs:        []error{permissionErr(), permissionErr()},
			wantCalls:   3,
			wantPattern: "p3",
		},
		{
			name:      "non-permission failure stops immediately",
			patterns:  []string{"p1", "p2", "p3"},
			errs:      []error{&ProcessError{Kind: KindProcessFailure, ExitCode: 2, Stderr: "segfault"}},
			wantCalls: 1,
		},
		{
			name:         "every pattern fails",
			patterns:     []string{"p1", "p2", "p3"},
			errs:         []error{permissionErr(), permissionErr(), permissionErr()},
			wantCalls:    3,
			wantExhaust:  true,
			wantCategory: CategoryPermission,
		},
		{
			name:         "single pattern failure is wrapped",
			patterns:     []string{"only"},
			errs:         []error{&ProcessError{Kind: KindTimeout, Signal: "SIGTERM", ExitCode: 143}},
			wantCalls:    1,
			wantExhaust:  true,
			wantCategory: CategoryTimeout,
		},
		{
			name:      "invalid input passes through",
			patterns:  []string{"p1", "p2"},
			errs:      []error{ErrInvalidInput},
			wantCalls: 1,
			wantErrIs: ErrInvalidInput,
		},
		{
			name:      "no patterns",
			patterns:  nil,
			wantCalls: 0,
			wantErrIs: ErrNoPatterns,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			runner := &fakeRunner{errs: tt.errs}
			esc := NewEscalator(runner, StaticPatterns(tt.patterns), nil)

			res, err := esc.Run(context.Background(), "prompt", true, nil)

			if len(runner.calls) != tt.wantCalls {
				t.Errorf("runner called %d times, want %d", len(runner.calls), tt.wantCalls)
			}
			for i, call := range runner.calls {
				if call.Pattern != tt.patterns[i] {
					t.Errorf("call %d used pattern %q, want %q", i, call.Pattern, tt.patterns[i])
				}
				if call.Prompt != "prompt" || !call.Continue {
					t.Errorf("call %d lost request fields: %+v", i, call)
				}
			}

			switch {
			case tt.wantPattern != "":
				if err != nil {
					t.Fatalf("Run() error = %v", err)
				}
				if res.Pattern != tt.wantPattern {
					t.Errorf("succeeded with %q, want %q", res.Pattern, tt.wantPattern)
				}
			case tt.wantErrIs != nil:
				if !errors.Is(err, tt.wantErrIs) {
					t.Errorf("Run() error = %v, want %v", err, tt.wantErrIs)
				}
			case tt.wantExhaust:
				var ex *ExhaustedError
				if !errors.As(err, &ex) {
					t.Fatalf("Run() error = %v, want *ExhaustedError", err)
				}
				if ex.Attempts != len(tt.patterns) {
					t.Errorf("Attempts = %d, want %d", ex.Attempts, len(tt.patterns))
				}
				if ex.Category != tt.wantCategory {
					t.Errorf("Category = %q, want %q", ex.Category, tt.wantCategory)
				}
			default:
				var pe *ProcessError
				if !errors.As(err, &pe) {
					t.Fatalf("Run() error = %v, want the original *ProcessError", err)
				}
				var ex *ExhaustedError
				if errors.As(err, &ex) {
					t.Errorf("non-permission failure should not be wrapped as exhausted")
				}
			}
		})
	}
}

func TestEscalatorForwardsEvents(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{errs: []error{permissionErr()}}
	esc := NewEscalator(runner, StaticPatterns{"a", "b"}, nil)

	var got []string
	if _, err := esc.Run(context.Background(), "x", false, func(ev Event) { got = append(got, ev.Text) }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 1 || got[0] != "ok:b" {
		t.Errorf("events = %v, want the successful attempt's events", got)
	}
}
