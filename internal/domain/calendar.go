package domain

import "time"

// SessionWindow is a (begin, end) pair in the market's local time-of-day,
// expressed as minutes since midnight so it is trivially comparable
// without juggling time.Time dates.
type SessionWindow struct {
	BeginMinute int
	EndMinute   int
}

// Contains reports whether the given minute-of-day falls in [Begin, End).
func (w SessionWindow) Contains(minuteOfDay int) bool {
	return minuteOfDay >= w.BeginMinute && minuteOfDay < w.EndMinute
}

// CalendarDay is one trading day's session schedule for a market.
type CalendarDay struct {
	Market     Market
	TradeDate  time.Time // date only, in the market's local zone
	Sessions   []SessionWindow
	IsHalfDay  bool
}

// RegimeLabel classifies the broad market state used to size cash reserve.
type RegimeLabel string

const (
	RegimeBull  RegimeLabel = "BULL"
	RegimeRange RegimeLabel = "RANGE"
	RegimeBear  RegimeLabel = "BEAR"
)

// IntradayStyle refines the regime with today's realized move vs ATR.
type IntradayStyle string

const (
	IntradayTrend IntradayStyle = "TREND"
	IntradayRange IntradayStyle = "RANGE"
)

// RegimeState is the output of the regime classifier.
type RegimeState struct {
	Label          RegimeLabel
	ReservePct     float64 // [0, 0.9]
	IntradayStyle  *IntradayStyle
	ComputedAt     time.Time
}
