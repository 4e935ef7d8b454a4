package api

import "time"

// chicagoLocation anchors the trading-hours gate to the futures trading
// day, matching risk.Manager's session boundary (America/Chicago).
var chicagoLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// isTradingHours reports whether now falls within the futures session
// window spec.md §4.16 names: open 17:00 the previous day through 15:10
// the current day, America/Chicago. This is advisory only — a closed
// session never blocks POST /api/trading/place-order, it only attaches a
// warning to the forwarded response.
func isTradingHours(now time.Time) bool {
	t := now.In(chicagoLocation)
	minutesOfDay := t.Hour()*60 + t.Minute()
	const open = 17 * 60       // 17:00
	const cutoff = 15*60 + 10  // 15:10
	if minutesOfDay >= open {
		return true // today's session has opened, runs past midnight
	}
	return minutesOfDay < cutoff // still within the session that opened yesterday
}
