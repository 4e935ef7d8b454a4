package strategy

import (
	"encoding/json"
	"fmt"

	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/indicators"
)

// MACrossStrategy generates a BUY signal when the fast moving average
// crosses above the slow one (golden cross) and a SELL signal on the
// reverse (death cross). Bar-driven.
type MACrossStrategy struct {
	id         string
	symbol     string
	fastPeriod int
	slowPeriod int
	confidence float64

	fastMA     float64
	slowMA     float64
	closes     []float64
	prevAction domain.Side
}

// NewMACrossStrategy builds a moving-average-crossover strategy instance.
func NewMACrossStrategy(id, symbol string, fastPeriod, slowPeriod int, confidence float64) *MACrossStrategy {
	return &MACrossStrategy{
		id:         id,
		symbol:     symbol,
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		confidence: confidence,
		closes:     make([]float64, 0, slowPeriod),
	}
}

func (s *MACrossStrategy) ID() string      { return s.id }
func (s *MACrossStrategy) Name() string    { return fmt.Sprintf("ma_cross_%d_%d", s.fastPeriod, s.slowPeriod) }
func (s *MACrossStrategy) WarmupBars() int { return s.slowPeriod }

type maCrossState struct {
	PrevAction domain.Side `json:"prev_action"`
	FastMA     float64     `json:"fast_ma"`
	SlowMA     float64     `json:"slow_ma"`
	Closes     []float64   `json:"closes"`
}

func (s *MACrossStrategy) GetState() (json.RawMessage, error) {
	return json.Marshal(maCrossState{
		PrevAction: s.prevAction,
		FastMA:     s.fastMA,
		SlowMA:     s.slowMA,
		Closes:     s.closes,
	})
}

func (s *MACrossStrategy) SetState(data json.RawMessage) error {
	var st maCrossState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	s.prevAction = st.PrevAction
	s.fastMA = st.FastMA
	s.slowMA = st.SlowMA
	s.closes = st.Closes
	return nil
}

// OnQuote does not act on raw quotes; this strategy operates on bar closes.
func (s *MACrossStrategy) OnQuote(domain.Quote) (*domain.Signal, error) { return nil, nil }

func (s *MACrossStrategy) OnBar(bar domain.Bar) (*domain.Signal, error) {
	if bar.Symbol != "" && bar.Symbol != s.symbol {
		return nil, nil
	}

	s.closes = append(s.closes, bar.Close)
	if len(s.closes) > s.slowPeriod {
		s.closes = s.closes[1:]
	}
	if len(s.closes) < s.slowPeriod {
		return nil, nil
	}

	oldFast, oldSlow := s.fastMA, s.slowMA
	s.fastMA = indicators.SMA(s.closes, s.fastPeriod)
	s.slowMA = indicators.SMA(s.closes, s.slowPeriod)

	action := s.crossAction(oldFast, oldSlow)
	if action == "" || action == s.prevAction {
		return nil, nil
	}
	s.prevAction = action

	return &domain.Signal{
		Symbol:     s.symbol,
		Side:       action,
		Confidence: s.confidence,
		Metadata: map[string]any{
			"fast_ma": s.fastMA,
			"slow_ma": s.slowMA,
			"reason":  crossReason(action, s.fastPeriod, s.slowPeriod, s.fastMA, s.slowMA),
		},
	}, nil
}

func (s *MACrossStrategy) crossAction(oldFast, oldSlow float64) domain.Side {
	if oldFast <= oldSlow && s.fastMA > s.slowMA {
		return domain.SideBuy
	}
	if oldFast >= oldSlow && s.fastMA < s.slowMA {
		return domain.SideSell
	}
	return ""
}

func crossReason(action domain.Side, fast, slow int, fastMA, slowMA float64) string {
	kind := "golden cross"
	if action == domain.SideSell {
		kind = "death cross"
	}
	return fmt.Sprintf("%s: MA%d(%.4f) vs MA%d(%.4f)", kind, fast, fastMA, slow, slowMA)
}
