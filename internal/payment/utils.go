package payment

import (
	"fmt"
	"regexp"
	"strings"
)

// Kenyan mobile numbers: 7XXXXXXXX or 1XXXXXXXX after the country code
var phoneRegex = regexp.MustCompile(`^([17]\d{8})$`)

// NormalizePhoneNumber validates a Kenyan phone number and returns it in
// 254XXXXXXXXX format, the form Daraja expects.
func NormalizePhoneNumber(phone string) (string, error) {
	phone = strings.TrimSpace(phone)

	// Remove leading '+'
	if strings.HasPrefix(phone, "+") {
		phone = phone[1:]
	}

	var localPart string
	if strings.HasPrefix(phone, "254") {
		localPart = phone[3:]
	} else if strings.HasPrefix(phone, "0") {
		localPart = phone[1:]
	} else {
		localPart = phone
	}

	if !phoneRegex.MatchString(localPart) {
		return "", fmt.Errorf("invalid phone number format: %s", phone)
	}

	return "254" + localPart, nil
}
