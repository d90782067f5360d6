package common

import (
	"math/big"
	"testing"
)

func TestPercentOfTruncates(t *testing.T) {
	got := PercentOf(big.NewInt(1001), 2500)
	if got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("expected 250, got %s", got)
	}
}

func TestPercentOfNilAndZero(t *testing.T) {
	if got := PercentOf(nil, 5000); got.Sign() != 0 {
		t.Fatalf("expected zero for nil amount, got %s", got)
	}
	if got := PercentOf(big.NewInt(100), 0); got.Sign() != 0 {
		t.Fatalf("expected zero for zero bps, got %s", got)
	}
}

func TestProportionZeroDenominator(t *testing.T) {
	got := Proportion(big.NewInt(1000), big.NewInt(3), big.NewInt(0))
	if got.Sign() != 0 {
		t.Fatalf("expected zero for zero total, got %s", got)
	}
}

func TestProportionSplit(t *testing.T) {
	got := Proportion(big.NewInt(200), big.NewInt(700), big.NewInt(1000))
	if got.Cmp(big.NewInt(140)) != 0 {
		t.Fatalf("expected 140, got %s", got)
	}
}

func TestMinBig(t *testing.T) {
	a := big.NewInt(5)
	b := big.NewInt(7)
	if got := MinBig(a, b); got.Cmp(a) != 0 {
		t.Fatalf("expected 5, got %s", got)
	}
	got := MinBig(a, b)
	got.SetInt64(99)
	if a.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("MinBig must not alias inputs")
	}
}

func TestGuard(t *testing.T) {
	registry := NewPauseRegistry()
	if err := Guard(registry, "fees"); err != nil {
		t.Fatalf("unexpected guard error: %v", err)
	}
	registry.SetPaused("fees", true)
	if err := Guard(registry, "fees"); err != ErrModulePaused {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	registry.SetPaused("fees", false)
	if err := Guard(registry, "fees"); err != nil {
		t.Fatalf("unexpected guard error after unpause: %v", err)
	}
}
