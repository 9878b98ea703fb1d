package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/pillbox/internal/model"
)

var clockRegexp = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

// ErrInvalidTime is returned for a time of day that is not 24h HH:MM.
var ErrInvalidTime = errors.New("time must be in HH:MM 24-hour format")

// NormalizeTime validates a daily time and zero-pads the hour so that it
// compares equal to Clock output ("8:05" becomes "08:05").
func NormalizeTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !clockRegexp.MatchString(s) {
		return "", ErrInvalidTime
	}
	hour, minute, _ := strings.Cut(s, ":")
	h, _ := strconv.Atoi(hour)
	return fmt.Sprintf("%02d:%s", h, minute), nil
}

// Clock formats t as the HH:MM string medications are matched against.
func Clock(t time.Time) string {
	return t.Format("15:04")
}

// IsDue reports whether med should be reminded at the given clock time on
// the calendar date of now.
func IsDue(med model.Medication, clock string, now time.Time) bool {
	if med.Time != clock {
		return false
	}
	if med.TakenOn(now) {
		return false
	}
	if med.SkippedOnDate(now) {
		return false
	}
	_, idle := med.State().(model.Idle)
	return idle
}
