package cleaning

import "strings"

// NormalizePhone strips formatting and the country prefix from a Brazilian
// phone number. Returns the bare digits and whether the number is usable:
// 10 digits for landlines, 11 for mobiles.
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) > 11 && strings.HasPrefix(digits, "55") {
		digits = digits[2:]
	}

	if len(digits) != 10 && len(digits) != 11 {
		return "", false
	}
	return digits, true
}

// IsMobile reports whether a normalized phone is a mobile number: 11 digits
// with a 9 after the two-digit area code.
func IsMobile(phone string) bool {
	return len(phone) == 11 && phone[2] == '9'
}
