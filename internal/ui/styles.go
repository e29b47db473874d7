// Package ui renders terminal output for the taskd CLI.
package ui

import (
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/samridh-111/backend-interview-challenge/internal/schema"
)

// Adaptive colors (light/dark terminal detection).
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#15803D", Dark: "#86EFAC"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FCD34D"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#FF6B6B"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#0070F3", Dark: "#79C0FF"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

var (
	mu       sync.RWMutex
	renderer = lipgloss.NewRenderer(os.Stdout)
	styles   = newStyles(renderer)
)

type styleSet struct {
	pass, warn, fail, accent, muted, bold lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styleSet {
	return styleSet{
		pass:   r.NewStyle().Foreground(ColorPass),
		warn:   r.NewStyle().Foreground(ColorWarn),
		fail:   r.NewStyle().Foreground(ColorFail).Bold(true),
		accent: r.NewStyle().Foreground(ColorAccent),
		muted:  r.NewStyle().Foreground(ColorMuted),
		bold:   r.NewStyle().Bold(true),
	}
}

func init() {
	if !IsTerminal(os.Stdout) || os.Getenv("NO_COLOR") != "" {
		SetColor(false)
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// SetColor forces colored output on or off.
func SetColor(enabled bool) {
	mu.Lock()
	defer mu.Unlock()

	if enabled {
		renderer.SetColorProfile(termenv.TrueColor)
		renderer.SetHasDarkBackground(true)
	} else {
		renderer.SetColorProfile(termenv.Ascii)
	}
	styles = newStyles(renderer)
}

func current() styleSet {
	mu.RLock()
	defer mu.RUnlock()
	return styles
}

// RenderPass renders success markers.
func RenderPass(s string) string { return current().pass.Render(s) }

// RenderWarn renders warnings.
func RenderWarn(s string) string { return current().warn.Render(s) }

// RenderFail renders failures.
func RenderFail(s string) string { return current().fail.Render(s) }

// RenderAccent renders highlighted text.
func RenderAccent(s string) string { return current().accent.Render(s) }

// RenderMuted renders secondary text.
func RenderMuted(s string) string { return current().muted.Render(s) }

// RenderBold renders headings.
func RenderBold(s string) string { return current().bold.Render(s) }

// RenderSyncStatus colors a task's sync status.
func RenderSyncStatus(status schema.SyncStatus) string {
	switch status {
	case schema.SyncSynced:
		return RenderPass(string(status))
	case schema.SyncPending:
		return RenderWarn(string(status))
	case schema.SyncError:
		return RenderFail(string(status))
	default:
		return string(status)
	}
}
