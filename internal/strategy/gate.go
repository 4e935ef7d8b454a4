package strategy

import (
	"context"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"topstepx-engine/internal/domain"
	"topstepx-engine/pkg/mlpb"
)

// RejectReasonMLReject is the rejection note attached by the ml_confirmation
// gate when the validator's win probability falls below its threshold.
const RejectReasonMLReject = "ML_REJECT"

// Gate applies a bot's configured agent behavior (rule_based, ml_confirmation,
// rl_agent) to a strategy's raw signal before it reaches the risk manager.
// A nil Signal return means the signal is suppressed.
type Gate interface {
	Apply(ctx context.Context, signal *domain.Signal) (*domain.Signal, error)
}

// RuleBasedGate passes every signal through unmodified. This is also the
// fallback behavior when no ML worker is configured: a bot whose
// ai_agent_type is ml_confirmation or rl_agent must never depend on a
// reachable ML service to place a rule-based-equivalent trade by accident,
// but an engine with no ML_WORKER_ADDR configured degrades every agent type
// to this pass-through rather than refusing to run.
type RuleBasedGate struct{}

func (RuleBasedGate) Apply(_ context.Context, signal *domain.Signal) (*domain.Signal, error) {
	return signal, nil
}

// MLConfirmationGate rejects a signal unless the worker's predicted win
// probability clears the configured threshold.
type MLConfirmationGate struct {
	Client    mlpb.StrategyServiceClient
	Threshold float64
	Timeout   time.Duration
}

func NewMLConfirmationGate(client mlpb.StrategyServiceClient, threshold float64) *MLConfirmationGate {
	return &MLConfirmationGate{Client: client, Threshold: threshold, Timeout: 2 * time.Second}
}

func (g *MLConfirmationGate) Apply(ctx context.Context, signal *domain.Signal) (*domain.Signal, error) {
	if signal == nil || g.Client == nil {
		return signal, nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	resp, err := g.Client.OnTick(ctx, toStruct(signal))
	if err != nil {
		return nil, err
	}

	winProb := fieldFloat(resp, "p_win", 0)
	if winProb < g.Threshold {
		return nil, nil
	}
	return signal, nil
}

func (g *MLConfirmationGate) timeout() time.Duration {
	if g.Timeout > 0 {
		return g.Timeout
	}
	return 2 * time.Second
}

// RLAgentGate rewrites a signal's size via a bounded discrete action space
// {0, 1, ..., sizeMax}; an action of 0 suppresses the trade entirely.
type RLAgentGate struct {
	Client  mlpb.StrategyServiceClient
	SizeMax float64
	Timeout time.Duration
}

func NewRLAgentGate(client mlpb.StrategyServiceClient, sizeMax float64) *RLAgentGate {
	return &RLAgentGate{Client: client, SizeMax: sizeMax, Timeout: 2 * time.Second}
}

func (g *RLAgentGate) Apply(ctx context.Context, signal *domain.Signal) (*domain.Signal, error) {
	if signal == nil || g.Client == nil {
		return signal, nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	resp, err := g.Client.OnTick(ctx, toStruct(signal))
	if err != nil {
		return nil, err
	}

	action := fieldFloat(resp, "action_size", 0)
	if action < 0 {
		action = 0
	}
	if g.SizeMax > 0 && action > g.SizeMax {
		action = g.SizeMax
	}
	if action == 0 {
		return nil, nil
	}

	rewritten := *signal
	if rewritten.Metadata == nil {
		rewritten.Metadata = map[string]any{}
	} else {
		meta := make(map[string]any, len(rewritten.Metadata)+1)
		for k, v := range rewritten.Metadata {
			meta[k] = v
		}
		rewritten.Metadata = meta
	}
	rewritten.Metadata["size"] = action
	return &rewritten, nil
}

func (g *RLAgentGate) timeout() time.Duration {
	if g.Timeout > 0 {
		return g.Timeout
	}
	return 2 * time.Second
}

// NewGate selects the gate behavior for a bot's configured agent type.
func NewGate(agentType domain.AIAgentType, client mlpb.StrategyServiceClient, threshold, sizeMax float64) Gate {
	switch agentType {
	case domain.AgentMLConfirmation:
		if client == nil {
			return RuleBasedGate{}
		}
		return NewMLConfirmationGate(client, threshold)
	case domain.AgentRLAgent:
		if client == nil {
			return RuleBasedGate{}
		}
		return NewRLAgentGate(client, sizeMax)
	default:
		return RuleBasedGate{}
	}
}

func toStruct(signal *domain.Signal) *structpb.Struct {
	fields := map[string]any{
		"symbol":     signal.Symbol,
		"side":       string(signal.Side),
		"confidence": signal.Confidence,
	}
	for k, v := range signal.Metadata {
		fields[k] = v
	}
	st, _ := structpb.NewStruct(fields)
	return st
}

func fieldFloat(s *structpb.Struct, key string, def float64) float64 {
	if s == nil {
		return def
	}
	v, ok := s.Fields[key]
	if !ok {
		return def
	}
	return v.GetNumberValue()
}
