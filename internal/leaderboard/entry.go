package leaderboard

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/wagerboard/leaderboard-proxy/internal/upstream"
)

// Entry is a single leaderboard row as served to clients.
type Entry struct {
	Username    string  `json:"username"`
	WagerAmount float64 `json:"wagerAmount"`
}

// Response is the body of a leaderboard query.
type Response struct {
	Data  []Entry `json:"data"`
	Ended bool    `json:"ended"`
}

// rawRecord is the subset of an upstream record we forward.
type rawRecord struct {
	Username    any `json:"username"`
	WagerAmount any `json:"wagerAmount"`
}

// maskEntries converts upstream records to masked entries, keeping upstream
// order. Records that are not JSON objects are dropped; zero wagers are
// kept.
func maskEntries(snapshot upstream.Snapshot) []Entry {
	entries := make([]Entry, 0, len(snapshot))

	for _, raw := range snapshot {
		// a JSON null unmarshals into a struct without error
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}

		var rec rawRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}

		username, _ := rec.Username.(string)

		entries = append(entries, Entry{
			Username:    MaskUsername(username),
			WagerAmount: wagerAmount(rec.WagerAmount),
		})
	}

	return entries
}

// wagerAmount coerces an upstream wager to a non-negative float. Missing,
// null, unparsable, and negative values count as zero.
func wagerAmount(v any) float64 {
	var f float64

	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}

	return f
}
