package oracle

import "strings"

// maxStatementLength bounds how much of a memory is quoted into a
// contradiction prompt. Long documents are judged by their opening; the
// embedding similarity gate has already established topical overlap.
const maxStatementLength = 2000

// SanitizeStatement prepares untrusted memory content for inclusion in a
// prompt. SECURITY: memory content is user data and may contain text that
// looks like instructions or like our own delimiter markers; both are
// neutralized here before the content is quoted between markers.
func SanitizeStatement(text string) string {
	// Drop characters that can break prompt framing
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\x00' || r == '\u200b' || r == '\ufeff' {
			continue
		}
		if r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	s := b.String()

	// Defang delimiter look-alikes so content cannot close our markers
	s = strings.ReplaceAll(s, "<<<", "< < <")
	s = strings.ReplaceAll(s, ">>>", "> > >")

	s = strings.TrimSpace(s)
	if len(s) > maxStatementLength {
		s = s[:maxStatementLength]
	}
	return s
}
