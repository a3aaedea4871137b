package leaderboard

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidEndTime is returned for an endTime that is not a millisecond
// Unix timestamp.
var ErrInvalidEndTime = errors.New("invalid endTime")

// TimestampUnit is the unit the upstream expects startTime/endTime in.
// Clients always send milliseconds.
type TimestampUnit string

const (
	Milliseconds TimestampUnit = "ms"
	Seconds      TimestampUnit = "s"
)

// largest value that is still plausibly a timestamp in seconds
const maxSecondsTimestamp = 9999999999

func ParseTimestampUnit(s string) (TimestampUnit, error) {
	switch u := TimestampUnit(s); u {
	case Milliseconds, Seconds:
		return u, nil
	default:
		return "", fmt.Errorf("unknown timestamp unit %q (want %q or %q)", s, Milliseconds, Seconds)
	}
}

// ParseEndTime parses a client supplied endTime in milliseconds.
func ParseEndTime(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %w", ErrInvalidEndTime, v, err)
	}

	if ms < 0 {
		return time.Time{}, fmt.Errorf("%w %q: negative timestamp", ErrInvalidEndTime, v)
	}

	return time.UnixMilli(ms), nil
}

// format encodes t as an upstream query value.
func (u TimestampUnit) format(t time.Time) string {
	if u == Seconds {
		return strconv.FormatInt(t.Unix(), 10)
	}

	return strconv.FormatInt(t.UnixMilli(), 10)
}

// convert rewrites a client supplied (millisecond) query value into the
// upstream unit. Values that already look like seconds, and values that are
// not integers, are passed through unchanged.
func (u TimestampUnit) convert(v string) string {
	if u != Seconds || v == "" {
		return v
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= maxSecondsTimestamp {
		return v
	}

	return strconv.FormatInt(n/1000, 10)
}
