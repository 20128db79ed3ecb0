package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeuristicPromotesEmptyBody(t *testing.T) {
	t.Parallel()

	promote, reason := NewHeuristic(100).ShouldPromote([]byte("  \n"))
	require.True(t, promote)
	require.Equal(t, ReasonEmpty, reason)
}

func TestHeuristicPromotesSPAMarkers(t *testing.T) {
	t.Parallel()

	promote, reason := NewHeuristic(100).ShouldPromote([]byte(`<div id="__next"></div><table></table>`))
	require.True(t, promote)
	require.Equal(t, ReasonSPAMarker, reason)
}

func TestHeuristicPromotesScriptHeavyShell(t *testing.T) {
	t.Parallel()

	promote, reason := NewHeuristic(1000).ShouldPromote([]byte(`<html><script>var a=1;</script><p>t</p></html>`))
	require.True(t, promote)
	require.Equal(t, ReasonScriptHeavy, reason)
}

func TestHeuristicPromotesPageWithoutTable(t *testing.T) {
	t.Parallel()

	body := "<html><body>" + strings.Repeat("<p>Đang tải dữ liệu</p>", 200) + "</body></html>"
	promote, reason := NewHeuristic(0).ShouldPromote([]byte(body))
	require.True(t, promote)
	require.Equal(t, ReasonNoTable, reason)
}

func TestHeuristicKeepsRegistryTable(t *testing.T) {
	t.Parallel()

	body := `<html><body><TABLE><tr><td>Số hiệu</td><td>12/2024/TT-BTC</td></tr></TABLE></body></html>`
	promote, _ := NewHeuristic(0).ShouldPromote([]byte(body))
	require.False(t, promote)
}
