package rates

import (
	"testing"
	"time"
)

func ptr(v int64) *int64 { return &v }

func TestDeriveNormalWindow(t *testing.T) {
	start := time.Now()
	rate := Derive(ptr(100), start, ptr(700), start.Add(60*time.Second))
	if rate == nil {
		t.Fatal("expected a rate, got nil")
	}
	if *rate != 10.0 {
		t.Fatalf("expected 10.0, got %v", *rate)
	}
}

func TestDeriveWindowTooShort(t *testing.T) {
	start := time.Now()
	rate := Derive(ptr(100), start, ptr(700), start.Add(5*time.Second))
	if rate != nil {
		t.Fatalf("expected nil rate for a 5s window, got %v", *rate)
	}
}

func TestDeriveNegativeDeltaIsCounterReset(t *testing.T) {
	start := time.Now()
	rate := Derive(ptr(700), start, ptr(100), start.Add(60*time.Second))
	if rate != nil {
		t.Fatalf("expected nil rate for a negative delta, got %v", *rate)
	}
}

func TestDeriveMissingPriorValue(t *testing.T) {
	start := time.Now()
	rate := Derive(nil, start, ptr(700), start.Add(60*time.Second))
	if rate != nil {
		t.Fatal("expected nil rate with no prior sample")
	}
}

func TestDeriveZeroDelta(t *testing.T) {
	start := time.Now()
	rate := Derive(ptr(500), start, ptr(500), start.Add(60*time.Second))
	if rate == nil || *rate != 0 {
		t.Fatalf("expected rate 0, got %v", rate)
	}
}
