package bridge

import "strings"

// MaskFor derives the apparent sender mask of a remote user from the
// bridging connection's own mask, replacing every occurrence of nick with
// user. An empty nick leaves the mask untouched.
func MaskFor(mask, nick, user string) string {
	if nick == "" {
		return mask
	}
	return strings.ReplaceAll(mask, nick, user)
}

// remoteEscaper renders the five HTML-special characters as named or
// numeric entities, double quote as &quot;.
var remoteEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&#39;",
	`"`, "&quot;",
)

// escapeRemote makes remote-authored text safe for clients that render HTML.
func escapeRemote(text string) string {
	return remoteEscaper.Replace(text)
}
