package strategy

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"topstepx-engine/internal/domain"
)

type fakeMLClient struct {
	resp *structpb.Struct
	err  error
}

func (f *fakeMLClient) OnTick(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return f.resp, f.err
}

func TestRuleBasedGatePassesThrough(t *testing.T) {
	g := RuleBasedGate{}
	sig := &domain.Signal{Symbol: "MES", Side: domain.SideBuy}

	out, err := g.Apply(context.Background(), sig)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != sig {
		t.Fatal("expected rule-based gate to pass the signal through unmodified")
	}
}

func TestNewGateFallsBackToRuleBasedWithoutClient(t *testing.T) {
	g := NewGate(domain.AgentMLConfirmation, nil, 0.6, 0)
	if _, ok := g.(RuleBasedGate); !ok {
		t.Fatalf("expected RuleBasedGate fallback when no ML client configured, got %T", g)
	}
}

func TestMLConfirmationGateRejectsBelowThreshold(t *testing.T) {
	st, _ := structpb.NewStruct(map[string]any{"p_win": 0.4})
	g := NewMLConfirmationGate(&fakeMLClient{resp: st}, 0.6)

	out, err := g.Apply(context.Background(), &domain.Signal{Symbol: "MES", Side: domain.SideBuy})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != nil {
		t.Fatal("expected rejection below threshold")
	}
}

func TestMLConfirmationGateAcceptsAboveThreshold(t *testing.T) {
	st, _ := structpb.NewStruct(map[string]any{"p_win": 0.9})
	g := NewMLConfirmationGate(&fakeMLClient{resp: st}, 0.6)

	out, err := g.Apply(context.Background(), &domain.Signal{Symbol: "MES", Side: domain.SideBuy})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out == nil {
		t.Fatal("expected signal to pass when win probability clears the threshold")
	}
}

func TestRLAgentGateSuppressesZeroAction(t *testing.T) {
	st, _ := structpb.NewStruct(map[string]any{"action_size": 0.0})
	g := NewRLAgentGate(&fakeMLClient{resp: st}, 5)

	out, err := g.Apply(context.Background(), &domain.Signal{Symbol: "MES", Side: domain.SideBuy})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != nil {
		t.Fatal("expected action 0 to suppress the signal")
	}
}

func TestRLAgentGateClampsToSizeMax(t *testing.T) {
	st, _ := structpb.NewStruct(map[string]any{"action_size": 99.0})
	g := NewRLAgentGate(&fakeMLClient{resp: st}, 3)

	out, err := g.Apply(context.Background(), &domain.Signal{Symbol: "MES", Side: domain.SideBuy})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out == nil {
		t.Fatal("expected a rewritten signal")
	}
	if out.Metadata["size"] != float64(3) {
		t.Fatalf("expected size clamped to 3, got %v", out.Metadata["size"])
	}
}
