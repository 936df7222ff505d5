package backtest

import "gammabot/pkg/types"

// FillInputs is the bar context a fill prices against.
type FillInputs struct {
	Mid         float64
	Spread      float64
	SpreadState string
	EventRate   float64
}

// FillResult is the modeled execution.
type FillResult struct {
	Price    float64
	Slippage float64
}

// FillModel prices entries as marketable fills: half the bar's range plus a
// slippage term that widens under spread stress, tightens in calm tape, and
// scales with event arrival rate.
type FillModel struct {
	BaseSlippage float64
}

func NewFillModel() FillModel {
	return FillModel{BaseSlippage: 0.01}
}

func (m FillModel) Execute(side types.Side, in FillInputs) FillResult {
	var stress float64
	switch in.SpreadState {
	case types.SpreadStressed:
		stress = 2 * m.BaseSlippage
	case types.SpreadTight:
		stress = -0.5 * m.BaseSlippage
	}
	slippage := m.BaseSlippage + stress + 0.001*in.EventRate
	price := in.Mid + side.Sign()*(in.Spread/2+slippage)
	return FillResult{Price: price, Slippage: slippage}
}
