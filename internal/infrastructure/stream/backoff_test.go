package stream

import (
	"testing"
	"time"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(1*time.Second, 10*time.Second)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, expected := range want {
		if got := b.Next(); got != expected {
			t.Errorf("attempt %d: Next() = %v, want %v", i, got, expected)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(1*time.Second, 10*time.Second)

	b.Next()
	b.Next()
	b.Next()
	if b.Attempt() != 3 {
		t.Fatalf("Attempt() = %d, want 3", b.Attempt())
	}

	b.Reset()
	if b.Attempt() != 0 {
		t.Errorf("Attempt() = %d after reset, want 0", b.Attempt())
	}
	if got := b.Next(); got != 1*time.Second {
		t.Errorf("Next() after reset = %v, want 1s", got)
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(0, 0)
	if b.Base != DefaultBase {
		t.Errorf("Base = %v, want %v", b.Base, DefaultBase)
	}
	if b.Cap != DefaultCap {
		t.Errorf("Cap = %v, want %v", b.Cap, DefaultCap)
	}
}

func TestBackoffCapBelowBase(t *testing.T) {
	b := NewBackoff(5*time.Second, 2*time.Second)
	// First delay starts at Base; the cap applies once doubling begins.
	b.Next()
	if got := b.Next(); got != 2*time.Second {
		t.Errorf("Next() = %v, want cap 2s", got)
	}
}
