package services

import (
	"strings"
	"unicode"
)

// Slugify lowercases a record name and collapses every run of
// non-alphanumeric characters into a single hyphen.
func Slugify(name string) string {
	var sb strings.Builder
	pendingHyphen := false

	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			pendingHyphen = false
			sb.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}

	return sb.String()
}
