package normalize

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// LinkDomain returns the authority part of url: the third "/"-separated
// segment, without any query or fragment. URLs with fewer than three
// segments yield "", as do bare single-label authorities such as
// "https://x" that carry neither a dot nor a port.
func LinkDomain(url string) string {
	parts := strings.SplitN(url, "/", 4)
	if len(parts) < 3 {
		return ""
	}
	host, _, _ := strings.Cut(parts[2], "?")
	host, _, _ = strings.Cut(host, "#")
	if !strings.ContainsAny(host, ".:") {
		return ""
	}
	return host
}

// RepairText undoes the mojibake export archives contain, where UTF-8 bytes
// were decoded as Latin-1 before being written. Text that does not round-trip
// through Latin-1 into valid UTF-8 is returned unchanged.
func RepairText(s string) string {
	if isASCII(s) {
		return s
	}
	raw, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil || !utf8.ValidString(raw) || raw == s {
		return s
	}
	return raw
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
