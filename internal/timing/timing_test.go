package timing

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestElapsedBeforeInit(t *testing.T) {
	tr := New(nil)
	if _, err := tr.Elapsed(); !errors.Is(err, ErrNoReference) {
		t.Errorf("expected ErrNoReference, got %v", err)
	}
	if _, err := tr.ReferenceMillis(); !errors.Is(err, ErrNoReference) {
		t.Errorf("expected ErrNoReference, got %v", err)
	}
	if tr.IsSet() {
		t.Error("expected reference unset")
	}
}

func TestInitReferenceOnce(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	tr := New(clk.Now)

	ref, err := tr.InitReference()
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	clk.Advance(time.Second)

	again, err := tr.InitReference()
	if !errors.Is(err, ErrReferenceSet) {
		t.Fatalf("expected ErrReferenceSet, got %v", err)
	}
	if !again.Equal(ref) {
		t.Errorf("second init moved the reference: %v != %v", again, ref)
	}
	ms, _ := tr.ReferenceMillis()
	if ms != ref.UnixMilli() {
		t.Errorf("expected %d, got %d", ref.UnixMilli(), ms)
	}
}

func TestElapsedIsReferenceFrameInvariant(t *testing.T) {
	starts := []time.Time{
		time.Unix(0, 0),
		time.Unix(1_700_000_000, 0),
		time.Date(2031, 3, 14, 9, 26, 53, 0, time.UTC),
	}
	steps := []time.Duration{250 * time.Millisecond, 3 * time.Second, 90 * time.Second}

	for _, start := range starts {
		clk := &fakeClock{t: start}
		tr := New(clk.Now)
		tr.InitReference()

		var want int64
		for _, d := range steps {
			clk.Advance(d)
			want += d.Milliseconds()
			got, err := tr.Elapsed()
			if err != nil {
				t.Fatalf("elapsed: %v", err)
			}
			if got != want {
				t.Errorf("start %v: expected %d ms, got %d", start, want, got)
			}
		}
	}
}

func TestElapsedRealClock(t *testing.T) {
	tr := New(nil)
	tr.InitReference()
	time.Sleep(20 * time.Millisecond)
	got, err := tr.Elapsed()
	if err != nil {
		t.Fatalf("elapsed: %v", err)
	}
	if got < 20 || got > 2000 {
		t.Errorf("elapsed %d ms outside tolerance", got)
	}
}
