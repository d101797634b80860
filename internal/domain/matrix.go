package domain

import (
	"math"
	"sort"
)

// PriceMatrix is a price series pivoted into a dense matrix: rows are sorted
// trading dates, columns are universe symbols. Cells with no trading data
// are NaN. A matrix is built once per backtest run and passed read-only to
// every strategy call.
type PriceMatrix struct {
	Dates   []string
	Symbols []string

	cols    map[string][]float64
	dateIdx map[string]int
}

// NewPriceMatrix pivots the series restricted to the given universe. Symbols
// with no data in the series are dropped; dates are the sorted union of the
// remaining symbols' dates.
func NewPriceMatrix(prices PriceSeries, universe []string) *PriceMatrix {
	kept := make([]string, 0, len(universe))
	dateSet := make(map[string]struct{})
	for _, sym := range universe {
		series := prices[sym]
		if len(series) == 0 {
			continue
		}
		kept = append(kept, sym)
		for d := range series {
			dateSet[d] = struct{}{}
		}
	}

	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	m := &PriceMatrix{
		Dates:   dates,
		Symbols: kept,
		cols:    make(map[string][]float64, len(kept)),
		dateIdx: make(map[string]int, len(dates)),
	}
	for i, d := range dates {
		m.dateIdx[d] = i
	}
	for _, sym := range kept {
		col := make([]float64, len(dates))
		series := prices[sym]
		for i, d := range dates {
			if v, ok := series[d]; ok {
				col[i] = v
			} else {
				col[i] = math.NaN()
			}
		}
		m.cols[sym] = col
	}
	return m
}

// Len returns the number of trading dates.
func (m *PriceMatrix) Len() int { return len(m.Dates) }

// Column returns the price column for a symbol (NaN for missing dates), or
// nil if the symbol is not in the matrix.
func (m *PriceMatrix) Column(symbol string) []float64 {
	return m.cols[symbol]
}

// Price returns the price of symbol at date index i, or NaN when the symbol
// is unknown, the index is out of range, or no data exists for that day.
func (m *PriceMatrix) Price(symbol string, i int) float64 {
	col := m.cols[symbol]
	if col == nil || i < 0 || i >= len(col) {
		return math.NaN()
	}
	return col[i]
}

// DateIndex returns the row index for an ISO date, or -1 if the date is not
// a trading date of this matrix.
func (m *PriceMatrix) DateIndex(date string) int {
	if i, ok := m.dateIdx[date]; ok {
		return i
	}
	return -1
}

// DailyReturn returns symbol's single-day return ending at index i
// (price[i]/price[i-1] - 1), or 0 when either price is missing. Days with
// data gaps contribute nothing rather than failing.
func (m *PriceMatrix) DailyReturn(symbol string, i int) float64 {
	if i <= 0 {
		return 0
	}
	cur := m.Price(symbol, i)
	prev := m.Price(symbol, i-1)
	if math.IsNaN(cur) || math.IsNaN(prev) || prev == 0 {
		return 0
	}
	return cur/prev - 1
}
