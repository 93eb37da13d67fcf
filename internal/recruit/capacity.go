package recruit

import (
	"strconv"
	"strings"
)

// DefaultCapacity is used when the organizer gives no usable number.
const DefaultCapacity = 6

// ParseCapacity concatenates the digits in text ("6명" is 6). Text without
// digits, zero, or a number too large to parse yields def.
func ParseCapacity(text string, def int) int {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(b.String())
	if err != nil || n <= 0 {
		return def
	}
	return n
}
