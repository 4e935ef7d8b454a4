package strategy

import (
	"encoding/json"
	"fmt"

	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/indicators"
)

// RSIStrategy is a relative-strength-index overbought/oversold strategy.
// BUY when RSI < oversoldThreshold (default 30), SELL when RSI >
// overboughtThreshold (default 70). Bar-driven.
type RSIStrategy struct {
	id                  string
	symbol              string
	period              int
	oversoldThreshold   float64
	overboughtThreshold float64
	confidence          float64

	closes     []float64
	rsi        float64
	prevAction domain.Side
}

// NewRSIStrategy creates a new RSI strategy.
func NewRSIStrategy(id, symbol string, period int, oversold, overbought, confidence float64) *RSIStrategy {
	return &RSIStrategy{
		id:                  id,
		symbol:              symbol,
		period:              period,
		oversoldThreshold:   oversold,
		overboughtThreshold: overbought,
		confidence:          confidence,
		closes:              make([]float64, 0, period+1),
	}
}

func (s *RSIStrategy) ID() string      { return s.id }
func (s *RSIStrategy) Name() string    { return fmt.Sprintf("rsi_%d", s.period) }
func (s *RSIStrategy) WarmupBars() int { return s.period + 1 }

type rsiState struct {
	PrevAction domain.Side `json:"prev_action"`
	RSI        float64     `json:"rsi"`
	Closes     []float64   `json:"closes"`
}

func (s *RSIStrategy) GetState() (json.RawMessage, error) {
	return json.Marshal(rsiState{
		PrevAction: s.prevAction,
		RSI:        s.rsi,
		Closes:     s.closes,
	})
}

func (s *RSIStrategy) SetState(data json.RawMessage) error {
	var st rsiState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	s.prevAction = st.PrevAction
	s.rsi = st.RSI
	s.closes = st.Closes
	return nil
}

// OnQuote does not act on raw quotes; this strategy operates on bar closes.
func (s *RSIStrategy) OnQuote(domain.Quote) (*domain.Signal, error) { return nil, nil }

func (s *RSIStrategy) OnBar(bar domain.Bar) (*domain.Signal, error) {
	if bar.Symbol != "" && bar.Symbol != s.symbol {
		return nil, nil
	}

	s.closes = append(s.closes, bar.Close)
	if len(s.closes) > s.period+1 {
		s.closes = s.closes[1:]
	}
	if len(s.closes) < s.period+1 {
		return nil, nil
	}

	s.rsi = indicators.RSI(s.closes, s.period)
	action, reason := s.classify()
	if action == "" || action == s.prevAction {
		return nil, nil
	}
	s.prevAction = action

	return &domain.Signal{
		Symbol:     s.symbol,
		Side:       action,
		Confidence: s.confidence,
		Metadata: map[string]any{
			"rsi":    s.rsi,
			"reason": reason,
		},
	}, nil
}

func (s *RSIStrategy) classify() (domain.Side, string) {
	switch {
	case s.rsi < s.oversoldThreshold:
		return domain.SideBuy, fmt.Sprintf("RSI oversold: %.2f < %.2f", s.rsi, s.oversoldThreshold)
	case s.rsi > s.overboughtThreshold:
		return domain.SideSell, fmt.Sprintf("RSI overbought: %.2f > %.2f", s.rsi, s.overboughtThreshold)
	default:
		return "", ""
	}
}
