package agent

import (
	"context"
	"errors"
	"testing"
)

type stubPreprocessor struct {
	out string
	err error
}

func (s stubPreprocessor) Process(_ context.Context, prompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.out + prompt, nil
}

func TestProcessorContinuationAfterReset(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	p := NewProcessor(NewEscalator(runner, StaticPatterns{"p"}, nil), nil, nil)
	ctx := context.Background()

	if _, err := p.Process(ctx, "discord:1", "one", nil); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if msg := p.Reset("discord:1"); msg != ResetMessage {
		t.Errorf("Reset() = %q", msg)
	}
	for _, prompt := range []string{"two", "three"} {
		if _, err := p.Process(ctx, "discord:1", prompt, nil); err != nil {
			t.Fatalf("Process() error = %v", err)
		}
	}
	if _, err := p.Process(ctx, "discord:2", "other chat", nil); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	want := []bool{true, false, true, true}
	if len(runner.calls) != len(want) {
		t.Fatalf("runner called %d times, want %d", len(runner.calls), len(want))
	}
	for i, w := range want {
		if runner.calls[i].Continue != w {
			t.Errorf("call %d (%q) Continue = %v, want %v", i, runner.calls[i].Prompt, runner.calls[i].Continue, w)
		}
	}
}

func TestProcessorPreprocessing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pre  Preprocessor
		want string
	}{
		{name: "none", pre: nil, want: "hi"},
		{name: "rewrites prompt", pre: stubPreprocessor{out: "[fetched] "}, want: "[fetched] hi"},
		{name: "failure falls back", pre: stubPreprocessor{err: errors.New("dial tcp: refused")}, want: "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			runner := &fakeRunner{}
			p := NewProcessor(NewEscalator(runner, StaticPatterns{"p"}, nil), tt.pre, nil)

			res, err := p.Process(context.Background(), "s", "hi", nil)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if runner.calls[0].Prompt != tt.want {
				t.Errorf("agent saw %q, want %q", runner.calls[0].Prompt, tt.want)
			}
			if res.Text != "ok:p" || res.Outcome != OutcomeSuccess {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestProcessorRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	p := NewProcessor(NewEscalator(runner, StaticPatterns{"p"}, nil), stubPreprocessor{out: "x"}, nil)

	if _, err := p.Process(context.Background(), "s", "\x00 \x01", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Process() error = %v, want ErrInvalidInput", err)
	}
	if len(runner.calls) != 0 {
		t.Error("agent must not run for empty input")
	}
}

func TestProcessorHealth(t *testing.T) {
	t.Parallel()

	healthy := &fakeRunner{}
	p := NewProcessor(NewEscalator(healthy, StaticPatterns{"p"}, nil), nil, nil)
	if !p.Health(context.Background()) {
		t.Error("expected healthy agent")
	}
	if healthy.calls[0].Prompt != HealthPrompt || healthy.calls[0].Continue {
		t.Errorf("health request = %+v", healthy.calls[0])
	}

	broken := &fakeRunner{errs: []error{&ProcessError{Kind: KindProcessFailure, ExitCode: 1}}}
	p = NewProcessor(NewEscalator(broken, StaticPatterns{"p"}, nil), nil, nil)
	if p.Health(context.Background()) {
		t.Error("expected unhealthy agent")
	}
}
