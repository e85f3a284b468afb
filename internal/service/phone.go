package service

import "strings"

// DefaultCountryPrefix is prepended to numbers submitted without one
const DefaultCountryPrefix = "+91"

// NormalizePhone returns phone unchanged when it already carries a '+'
// prefix, otherwise it prepends DefaultCountryPrefix.
func NormalizePhone(phone string) string {
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	return DefaultCountryPrefix + phone
}
