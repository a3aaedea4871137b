package traceutil

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	modeKey       = attribute.Key("leaderboard.mode")
	rangeKeyKey   = attribute.Key("leaderboard.range_key")
	entriesKey    = attribute.Key("leaderboard.entries")
	endedKey      = attribute.Key("leaderboard.ended")
	startTimeKey  = attribute.Key("upstream.start_time")
	endTimeKey    = attribute.Key("upstream.end_time")
	statusCodeKey = attribute.Key("upstream.response.status_code")
)

// The view served to the client.
//
// Type: string
// Required: Yes
// Examples: "lifetime", "weekly"
func Mode(mode string) attribute.KeyValue {
	return modeKey.String(mode)
}

// The weekly cache key (startTime + "_" + endTime, as given by the client).
//
// Type: string
// Required: No
// Examples: "1700000000000_1700003600000"
func RangeKey(key string) attribute.KeyValue {
	return rangeKeyKey.String(key)
}

// The number of leaderboard entries returned.
//
// Type: int
// Required: No
// Examples: 25
func Entries(n int) attribute.KeyValue {
	return entriesKey.Int(n)
}

// Whether the leaderboard end time has passed.
//
// Type: bool
// Required: No
func Ended(ended bool) attribute.KeyValue {
	return endedKey.Bool(ended)
}

// The startTime query parameter sent upstream, empty when omitted.
//
// Type: string
// Required: Yes
// Examples: "1700000000000", ""
func StartTime(v string) attribute.KeyValue {
	return startTimeKey.String(v)
}

// The endTime query parameter sent upstream, empty when omitted.
//
// Type: string
// Required: Yes
// Examples: "1700003600000", ""
func EndTime(v string) attribute.KeyValue {
	return endTimeKey.String(v)
}

// The upstream HTTP response status code.
//
// Type: int
// Required: No
// Examples: 200, 400
func StatusCode(code int) attribute.KeyValue {
	return statusCodeKey.Int(code)
}
