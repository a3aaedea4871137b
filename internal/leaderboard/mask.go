package leaderboard

import "strings"

// MaskUsername hides most of a username while keeping it recognisable to
// its owner: "UsernameA" becomes "Use*****A". Names of up to four
// characters keep only their first character. The result always has as many
// characters as the input.
func MaskUsername(username string) string {
	r := []rune(username)
	n := len(r)

	switch {
	case n <= 1:
		return username
	case n <= 4:
		return string(r[0]) + strings.Repeat("*", n-1)
	default:
		return string(r[:3]) + strings.Repeat("*", n-4) + string(r[n-1])
	}
}
