package util

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultCountryCode is prepended to bare 10-digit national numbers.
const DefaultCountryCode = "+91"

var dialableRegex = regexp.MustCompile(`^\+[0-9]{8,15}$`)

// NormalizePhone maps raw user input to a canonical dialable identifier using
// DefaultCountryCode. It never fails; unrecognized input is reformatted best-effort.
func NormalizePhone(raw string) string {
	return NormalizePhoneWithCountry(raw, DefaultCountryCode)
}

// NormalizePhoneWithCountry is NormalizePhone with an explicit country code.
func NormalizePhoneWithCountry(raw, countryCode string) string {
	phone := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return r
	}, raw)

	if strings.HasPrefix(phone, "+") {
		return phone
	}
	phone = strings.TrimPrefix(phone, "00")
	phone = strings.TrimPrefix(phone, "0")

	if len(phone) == 10 && isDigits(phone) {
		return countryCode + phone
	}
	return "+" + phone
}

// IsDialable reports whether id looks like an E.164 number.
func IsDialable(id string) bool {
	return dialableRegex.MatchString(id)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
