package risk

import "time"

// SessionClock converts timestamps into minutes-to-open / minutes-to-close
// for the admission checks. Hours are UTC; the defaults cover the US cash
// session during daylight time.
type SessionClock struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

func DefaultSessionClock() SessionClock {
	return SessionClock{OpenHour: 13, OpenMinute: 30, CloseHour: 20}
}

func (c SessionClock) openAt(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.OpenHour, c.OpenMinute, 0, 0, time.UTC)
}

func (c SessionClock) closeAt(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.CloseHour, c.CloseMinute, 0, 0, time.UTC)
}

// MinutesToOpen is (open − now) in whole minutes: positive before the open,
// negative after.
func (c SessionClock) MinutesToOpen(ts int64) int {
	now := time.UnixMicro(ts).UTC()
	return int(c.openAt(now).Sub(now).Minutes())
}

// MinutesToClose is (close − now) in whole minutes.
func (c SessionClock) MinutesToClose(ts int64) int {
	now := time.UnixMicro(ts).UTC()
	return int(c.closeAt(now).Sub(now).Minutes())
}
