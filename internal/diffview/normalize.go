package diffview

import "strings"

const bom = "\uFEFF"

// StripBOMs removes leading byte-order marks until none remain.
func StripBOMs(s string) string {
	for {
		next := strings.TrimPrefix(s, bom)
		if next == s {
			return s
		}
		s = next
	}
}

// DetectEOL returns "\r\n" if s contains any CRLF, otherwise "\n".
func DetectEOL(s string) string {
	if strings.Contains(s, "\r\n") {
		return "\r\n"
	}
	return "\n"
}

// NormalizeEOL rewrites every line ending in s to eol.
func NormalizeEOL(s, eol string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if eol == "\n" {
		return s
	}
	return strings.ReplaceAll(s, "\n", eol)
}

// TrimTrailingNewlines removes any run of trailing line terminators.
func TrimTrailingNewlines(s string) string {
	return strings.TrimRight(s, "\r\n")
}

// NormalizeForCompare unifies line endings to eol and ends s with exactly
// one terminator, so content differing only in those respects compares
// equal.
func NormalizeForCompare(s, eol string) string {
	return TrimTrailingNewlines(NormalizeEOL(s, eol)) + eol
}
