package engine

import (
	"fmt"
	"sync"
	"time"

	"quantdesk/internal/domain"
)

// RiskError describes a pre-trade check rejection. The API layer maps it
// to a 422 so the dashboard can show the rule that fired.
type RiskError struct {
	Rule string // "max_position" or "daily_loss"
	Msg  string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk check %s: %s", e.Rule, e.Msg)
}

// RiskManager enforces pre-trade rules: a cap on single-position exposure
// and a kill switch once the account is down too far on the day.
type RiskManager struct {
	maxPositionPct  float64 // fraction of equity per symbol, 0 disables
	maxDailyLossPct float64 // fraction of day-start equity, 0 disables

	mu             sync.Mutex
	day            string
	dayStartEquity float64
	now            func() time.Time
}

// NewRiskManager creates a RiskManager. Fractions are of account equity,
// e.g. 0.10 caps any one position at 10% and 0.02 halts buying after a
// 2% drawdown on the day. Zero disables a rule.
func NewRiskManager(maxPositionPct, maxDailyLossPct float64) *RiskManager {
	return &RiskManager{
		maxPositionPct:  maxPositionPct,
		maxDailyLossPct: maxDailyLossPct,
		now:             time.Now,
	}
}

// CheckOrder evaluates a proposed market order against the risk rules.
// price is the expected fill price used to estimate notional exposure.
func (rm *RiskManager) CheckOrder(acct *domain.Account, positions []domain.Position, symbol string, side domain.OrderSide, qty, price float64) error {
	if acct == nil || acct.Equity <= 0 {
		return &RiskError{Rule: "max_position", Msg: "account equity unavailable"}
	}

	// Sells reduce exposure and are always allowed through.
	if side == domain.OrderSideSell {
		rm.observeEquity(acct.Equity)
		return nil
	}

	if err := rm.checkDailyLoss(acct.Equity); err != nil {
		return err
	}

	if rm.maxPositionPct > 0 {
		exposure := qty * price
		for _, p := range positions {
			if p.Symbol == symbol {
				exposure += p.MarketValue
			}
		}
		limit := rm.maxPositionPct * acct.Equity
		if exposure > limit {
			return &RiskError{
				Rule: "max_position",
				Msg: fmt.Sprintf("%s exposure %.2f would exceed limit %.2f (%.0f%% of equity)",
					symbol, exposure, limit, rm.maxPositionPct*100),
			}
		}
	}
	return nil
}

// observeEquity records the first equity reading of each day as the
// baseline for the daily loss rule.
func (rm *RiskManager) observeEquity(equity float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	today := rm.now().Format("2006-01-02")
	if rm.day != today {
		rm.day = today
		rm.dayStartEquity = equity
	}
}

func (rm *RiskManager) checkDailyLoss(equity float64) error {
	if rm.maxDailyLossPct <= 0 {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	today := rm.now().Format("2006-01-02")
	if rm.day != today {
		rm.day = today
		rm.dayStartEquity = equity
		return nil
	}
	floor := rm.dayStartEquity * (1 - rm.maxDailyLossPct)
	if equity < floor {
		return &RiskError{
			Rule: "daily_loss",
			Msg: fmt.Sprintf("equity %.2f below daily floor %.2f, new buys halted",
				equity, floor),
		}
	}
	return nil
}
