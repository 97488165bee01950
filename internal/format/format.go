// Package format renders sizes, times and avatar URLs for display.
package format

import (
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"
)

// DefaultAvatar is used when a user has no usable avatar and no name.
const DefaultAvatar = "/static/default-avatar.png"

// placeholderBase renders initials when a user has no avatar
const placeholderBase = "https://ui-avatars.com/api/"

// FileSize renders a byte count the way uploads are labelled ("50 MiB").
// Negative sizes render as "0 B".
func FileSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// Ago renders t relative to now ("3 minutes ago", "2 days from now").
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// Initials returns up to two uppercase initials of name.
func Initials(name string) string {
	var out []rune
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				out = append(out, unicode.ToUpper(r))
				break
			}
		}
		if len(out) == 2 {
			break
		}
	}
	return string(out)
}

// AvatarURL resolves the avatar stored for a user into a URL a client can
// load. The rules, in order:
//
//   - absolute http(s) and data: URLs are used as they are
//   - protocol-relative URLs get https
//   - any other non-empty value is a path on the API and is joined to base
//   - an empty value falls back to an initials placeholder built from name
//   - with no name either, DefaultAvatar is used
func AvatarURL(avatar, base, name string) string {
	avatar = strings.TrimSpace(avatar)
	lower := strings.ToLower(avatar)

	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "data:"):
		return avatar
	case strings.HasPrefix(avatar, "//"):
		return "https:" + avatar
	case avatar != "":
		if base == "" {
			return "/" + strings.TrimLeft(avatar, "/")
		}
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(avatar, "/")
	}

	if initials := Initials(name); initials != "" {
		return placeholderBase + "?name=" + url.QueryEscape(initials) + "&background=random"
	}
	return DefaultAvatar
}
