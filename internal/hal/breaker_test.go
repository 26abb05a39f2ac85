package hal

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

type fakeTime struct {
	now time.Time
}

func (f *fakeTime) Now() time.Time          { return f.now }
func (f *fakeTime) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeTime) {
	ft := &fakeTime{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("test", cfg)
	b.nowFunc = ft.Now
	return b, ft
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Threshold: 3, Cooldown: 10 * time.Second})

	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errTest })
	}
	if b.State() != BreakerClosed {
		t.Fatalf("State() after 2 failures = %s, want closed", b.State())
	}

	b.Execute(func() error { return errTest })
	if b.State() != BreakerOpen {
		t.Fatalf("State() after 3 failures = %s, want open", b.State())
	}

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() error = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("function called while circuit open")
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Threshold: 2})

	b.Execute(func() error { return errTest })
	b.Execute(func() error { return nil })
	b.Execute(func() error { return errTest })

	if b.State() != BreakerClosed {
		t.Errorf("State() = %s, want closed", b.State())
	}
}

func TestBreakerRecovery(t *testing.T) {
	tests := []struct {
		name  string
		trial error
		want  BreakerState
	}{
		{"trial succeeds", nil, BreakerClosed},
		{"trial fails", errTest, BreakerOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ft := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: 5 * time.Second})
			b.Execute(func() error { return errTest })

			ft.Advance(6 * time.Second)
			if b.State() != BreakerHalfOpen {
				t.Fatalf("State() after cooldown = %s, want half-open", b.State())
			}

			b.Execute(func() error { return tt.trial })
			if got := b.State(); got != tt.want {
				t.Errorf("State() after trial = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Threshold: 1})
	b.Execute(func() error { return errTest })

	b.Reset()
	if b.State() != BreakerClosed {
		t.Errorf("State() after Reset() = %s, want closed", b.State())
	}
}

func TestBreakerStateString(t *testing.T) {
	tests := []struct {
		state BreakerState
		want  string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half-open"},
		{BreakerState(99), "unknown(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("BreakerState(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
