package ledger

import (
	"errors"
	"sync"
	"testing"
)

func TestEmptyLedgerIsUploaded(t *testing.T) {
	l := New()
	if !l.AllUploaded() {
		t.Error("expected empty ledger to report all uploaded")
	}
	if l.Len() != 0 {
		t.Errorf("expected 0 entries, got %d", l.Len())
	}
}

func TestRegisterAndComplete(t *testing.T) {
	l := New()

	a := l.Register()
	if got := l.Entries(); len(got) != 1 || got[0] {
		t.Fatalf("expected [false], got %v", got)
	}
	if l.AllUploaded() {
		t.Error("expected pending upload after register")
	}

	b := l.Register()
	if a == b {
		t.Fatalf("expected distinct tokens, got %d twice", a)
	}

	if err := l.Complete(a); err != nil {
		t.Fatalf("complete a: %v", err)
	}
	if got := l.Entries(); !got[0] || got[1] {
		t.Errorf("expected [true false], got %v", got)
	}
	if l.AllUploaded() {
		t.Error("expected b still pending")
	}

	if err := l.Complete(b); err != nil {
		t.Fatalf("complete b: %v", err)
	}
	if !l.AllUploaded() {
		t.Error("expected all uploaded")
	}

	// Double completion is idempotent
	if err := l.Complete(a); err != nil {
		t.Errorf("double complete: %v", err)
	}
	if !l.AllUploaded() {
		t.Error("double complete changed state")
	}
}

func TestRegisterResetsAllUploaded(t *testing.T) {
	l := New()
	l.Complete(l.Register())
	if !l.AllUploaded() {
		t.Fatal("expected all uploaded")
	}
	l.Register()
	if l.AllUploaded() {
		t.Error("new registration must clear all-uploaded")
	}
}

func TestCompleteUnknownToken(t *testing.T) {
	l := New()
	l.Register()
	for _, tok := range []Token{-1, 1, 42} {
		if err := l.Complete(tok); !errors.Is(err, ErrUnknownToken) {
			t.Errorf("token %d: expected ErrUnknownToken, got %v", tok, err)
		}
	}
}

func TestConcurrentCompletions(t *testing.T) {
	l := New()
	const n = 50
	toks := make([]Token, n)
	for i := range toks {
		toks[i] = l.Register()
	}

	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(tok Token) {
			defer wg.Done()
			l.Complete(tok)
		}(toks[i])
	}
	wg.Wait()

	if !l.AllUploaded() {
		t.Errorf("expected all uploaded, entries %v", l.Entries())
	}
}
