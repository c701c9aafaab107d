// Package phone normalizes phone numbers into the canonical conversation
// key: E.164 digits without the leading plus, matching the wa_id format the
// provider uses in webhooks.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Canonical returns the conversation key for an input in any common format.
// Unparseable input falls back to stripping everything but digits, so a key
// the provider already sent us round-trips unchanged.
func Canonical(input, defaultRegion string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err == nil && phonenumbers.IsValidNumber(number) {
		return strings.TrimPrefix(phonenumbers.Format(number, phonenumbers.E164), "+")
	}

	return digitsOnly(trimmed)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
