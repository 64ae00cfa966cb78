package util

import (
	"regexp"
	"strings"
)

var phoneJunk = regexp.MustCompile(`[^\d\+]+`)

// NormalizePhone tries to normalize user input into E.164-like format.
// Numbers without a country prefix are assumed to be NANP (+1).
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = phoneJunk.ReplaceAllString(s, "")

	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	} else if strings.HasPrefix(s, "1") && len(s) == 11 {
		s = "+" + s
	} else if len(s) == 10 && !strings.HasPrefix(s, "+") {
		s = "+1" + s
	}

	return s
}
