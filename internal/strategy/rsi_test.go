package strategy

import (
	"testing"

	"topstepx-engine/internal/domain"
)

func TestRSIEmitsOversoldBuy(t *testing.T) {
	s := NewRSIStrategy("r1", "MES", 3, 30, 70, 0.6)

	closes := []float64{100, 99, 98, 97}
	var last *domain.Signal
	for _, c := range closes {
		sig, err := s.OnBar(domain.Bar{Symbol: "MES", Close: c})
		if err != nil {
			t.Fatalf("OnBar: %v", err)
		}
		if sig != nil {
			last = sig
		}
	}

	if last == nil {
		t.Fatal("expected a BUY signal once RSI drops below the oversold threshold")
	}
	if last.Side != domain.SideBuy {
		t.Fatalf("expected BUY, got %s", last.Side)
	}
}

func TestRSIEmitsOverboughtSell(t *testing.T) {
	s := NewRSIStrategy("r1", "MES", 3, 30, 70, 0.6)

	closes := []float64{100, 101, 102, 103}
	var last *domain.Signal
	for _, c := range closes {
		sig, err := s.OnBar(domain.Bar{Symbol: "MES", Close: c})
		if err != nil {
			t.Fatalf("OnBar: %v", err)
		}
		if sig != nil {
			last = sig
		}
	}

	if last == nil {
		t.Fatal("expected a SELL signal once RSI rises above the overbought threshold")
	}
	if last.Side != domain.SideSell {
		t.Fatalf("expected SELL, got %s", last.Side)
	}
}

func TestRSINoSignalBelowWarmup(t *testing.T) {
	s := NewRSIStrategy("r1", "MES", 14, 30, 70, 0.6)
	sig, err := s.OnBar(domain.Bar{Symbol: "MES", Close: 100})
	if err != nil {
		t.Fatalf("OnBar: %v", err)
	}
	if sig != nil {
		t.Fatal("expected no signal before warmup bars are filled")
	}
}

func TestRSIWarmupBars(t *testing.T) {
	s := NewRSIStrategy("r1", "MES", 14, 30, 70, 0.6)
	if s.WarmupBars() != 15 {
		t.Fatalf("expected warmup of period+1=15, got %d", s.WarmupBars())
	}
}
