package sip

import "strings"

// UnknownCaller is the phone value recorded when the From header yields
// nothing usable.
const UnknownCaller = "unknown"

// NormalizeCallerID reduces a SIP From user or URI to a canonical phone
// string. Full-length numbers are normalized to E.164-ish +digits form;
// short numeric strings pass through unchanged as internal extensions.
func NormalizeCallerID(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	for _, scheme := range []string{"sip:", "sips:", "tel:"} {
		s = strings.TrimPrefix(s, scheme)
	}
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[:at]
	}

	plus := strings.HasPrefix(s, "+")
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case d == "":
		return UnknownCaller
	case plus:
		return "+" + d
	case len(d) >= 10:
		return "+" + d
	default:
		// Short numeric strings are internal extensions.
		return d
	}
}
