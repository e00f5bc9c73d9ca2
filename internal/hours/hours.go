package hours

import (
	"strconv"
	"strings"
	"time"
)

// Window resolves an open/close pair like "17:00"/"01:00" into absolute
// instants around now. When the close time is earlier in the day than the
// open time the window spans midnight: if now is still before today's close
// the window started yesterday, otherwise it ends tomorrow.
func Window(openTime, closeTime string, now time.Time) (start, end time.Time, ok bool) {
	openHour, openMinute, ok := parseClock(openTime)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	closeHour, closeMinute, ok := parseClock(closeTime)
	if !ok {
		return time.Time{}, time.Time{}, false
	}

	year, month, day := now.Date()
	start = time.Date(year, month, day, openHour, openMinute, 0, 0, now.Location())
	end = time.Date(year, month, day, closeHour, closeMinute, 0, 0, now.Location())

	if end.Before(start) {
		if now.Before(end) {
			start = start.AddDate(0, 0, -1)
		} else {
			end = end.AddDate(0, 0, 1)
		}
	}

	return start, end, true
}

// Contains reports whether now falls inside the configured business hours.
// Empty or malformed times mean the display is always on.
func Contains(openTime, closeTime string, now time.Time) bool {
	start, end, ok := Window(openTime, closeTime, now)
	if !ok {
		return true
	}
	return !now.Before(start) && now.Before(end)
}

func parseClock(value string) (hour, minute int, ok bool) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, false
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}
