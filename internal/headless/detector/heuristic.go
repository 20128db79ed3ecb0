// Package detector decides when a registry page fetched over plain HTTP should be
// re-fetched through the headless renderer.
package detector

import (
	"bytes"
	"strings"
)

// Promotion reasons.
const (
	ReasonEmpty       = "empty"
	ReasonSPAMarker   = "spa_marker"
	ReasonScriptHeavy = "script_heavy"
	ReasonNoTable     = "no_table"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector. A zero threshold defaults to 2048 bytes.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
}

// ShouldPromote reports whether body looks like a shell that needs JavaScript to
// render, and why. Registry listing and detail pages always carry a table.
func (h *Heuristic) ShouldPromote(body []byte) (bool, string) {
	if len(bytes.TrimSpace(body)) == 0 {
		return true, ReasonEmpty
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true, ReasonSPAMarker
		}
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true, ReasonScriptHeavy
	}
	if !bytes.Contains(bytes.ToLower(body), []byte("<table")) {
		return true, ReasonNoTable
	}
	return false, ""
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
