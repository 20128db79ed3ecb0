package crawler

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	mdLinkRe     = regexp.MustCompile(`(!?)\[([^\]]*)\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"]*")?\s*\)`)
	mdEmphasisRe = regexp.MustCompile(`\*\*|__|\*|` + "`")
	separatorRe  = regexp.MustCompile(`^:?-{2,}:?$`)
)

// cleanText NFC-normalizes s and collapses all whitespace, including NBSP.
func cleanText(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

// resolveLink turns href into an absolute http(s) URL relative to base.
func resolveLink(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
		return nil, false
	}
	var (
		u   *url.URL
		err error
	)
	if base != nil {
		u, err = base.Parse(href)
	} else {
		u, err = url.Parse(href)
	}
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, false
	}
	u.Fragment = ""
	return u, true
}

// stripMirror undoes a reader mirror rewriting links as base+original.
func stripMirror(mirrorBase, href string) string {
	if mirrorBase != "" && strings.HasPrefix(href, mirrorBase) {
		return strings.TrimPrefix(href, mirrorBase)
	}
	return href
}

// fileNameFromURL returns the unescaped last path segment.
func fileNameFromURL(u *url.URL) string {
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// splitMarkdownRow splits a pipe table row into trimmed cells.
func splitMarkdownRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	line = strings.ReplaceAll(line, `\|`, "\x00")
	parts := strings.Split(line, "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(strings.ReplaceAll(p, "\x00", "|"))
	}
	return cells
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if c == "" {
			continue
		}
		if !separatorRe.MatchString(c) {
			return false
		}
	}
	return true
}

type markdownLink struct {
	text string
	href string
}

// markdownLinks returns non-image links in order of appearance.
func markdownLinks(s string) []markdownLink {
	var out []markdownLink
	for _, m := range mdLinkRe.FindAllStringSubmatch(s, -1) {
		if m[1] == "!" {
			continue
		}
		out = append(out, markdownLink{text: m[2], href: m[3]})
	}
	return out
}

// markdownText strips link and emphasis syntax, keeping visible text.
func markdownText(s string) string {
	s = mdLinkRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := mdLinkRe.FindStringSubmatch(m)
		if sub[1] == "!" {
			return ""
		}
		return sub[2]
	})
	s = mdEmphasisRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, `\`, "")
	return cleanText(s)
}
