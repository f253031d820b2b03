package assistant

import "strings"

// StripHTML reduces markup to speakable plain text. Tags are dropped, block
// boundaries become spaces, and a handful of common entities are decoded.
// Replies are usually plain already; this guards against models that wrap
// answers in markup anyway.
func StripHTML(s string) string {
	if !strings.ContainsRune(s, '<') && !strings.ContainsRune(s, '&') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	out := b.String()
	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	out = replacer.Replace(out)

	return strings.Join(strings.Fields(out), " ")
}
