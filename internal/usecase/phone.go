package usecase

import (
	// Go Internal Packages
	"strings"

	// Local Packages
	apperrors "github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/errors"

	// External Packages
	"github.com/ttacon/libphonenumber"
)

const (
	kenyaPrefix = "254"
	kenyaRegion = "KE"
)

var errPhoneFormat = apperrors.E(apperrors.Invalid, "unrecognized phone format", nil)

// NormalizePhone rewrites a customer phone to the 254XXXXXXXXX form the
// gateway expects.
func NormalizePhone(raw string) (string, error) {
	s := strings.Join(strings.Fields(raw), "")

	switch {
	case strings.HasPrefix(s, "0"):
		s = kenyaPrefix + s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	case strings.HasPrefix(s, kenyaPrefix):
	default:
		return "", errPhoneFormat
	}

	if !strings.HasPrefix(s, kenyaPrefix) || !allDigits(s) {
		return "", errPhoneFormat
	}

	num, err := libphonenumber.Parse("+"+s, kenyaRegion)
	if err != nil || num.GetCountryCode() != 254 {
		return "", errPhoneFormat
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", errPhoneFormat
	}
	return s, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
