// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package audit

import (
	"regexp"
)

// Patterns removed from every log record. Signed URL tokens and
// authorization headers would otherwise leak credentials into log storage;
// emails, phones and street addresses are PII.
var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	// phone shapes only: an optional country code plus area code and
	// subscriber number, or the bare 3-4 local form. Word boundaries keep
	// digit runs inside identifiers (uuids, hashes) intact.
	phonePattern = regexp.MustCompile(`(?:\+|\b)(?:\d{1,2}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b|\b\d{3}[\s.-]\d{4}\b`)
	// street addresses of the "123 Some Street" shape
	addressPattern = regexp.MustCompile(`(?i)\b\d{1,5}\s+[A-Za-z0-9.'-]+(?:\s+[A-Za-z0-9.'-]+){0,3}\s+(st|street|ave|avenue|rd|road|blvd|boulevard|ln|lane|dr|drive|ct|court|way|pl|place)\b\.?`)
	authPattern    = regexp.MustCompile(`(?i)(authorization:\s*(?:bearer|basic)?\s*|bearer\s+|basic\s+)[A-Za-z0-9._~+/=-]+`)
	sigPattern     = regexp.MustCompile(`(?i)([?&](sig|signature|token|exp|x-amz-signature|x-amz-credential)=)[^&\s"]+`)
)

// Redact removes emails, phone numbers, street addresses, authorization
// headers and signed URL query tokens from s.
func Redact(s string) string {
	s = authPattern.ReplaceAllString(s, "${1}[redacted]")
	s = sigPattern.ReplaceAllString(s, "${1}[redacted]")
	s = emailPattern.ReplaceAllString(s, "[redacted-email]")
	s = addressPattern.ReplaceAllString(s, "[redacted-address]")
	s = phonePattern.ReplaceAllString(s, "[redacted-phone]")
	return s
}
