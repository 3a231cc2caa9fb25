// SPDX-License-Identifier: AGPL-3.0-or-later

package report

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Khamel83/oos/internal/runner"
)

// Palette shared with the CLI. Tuned for dark terminal backgrounds.
const (
	ColorPrimary = lipgloss.Color("#7C3AED")
	ColorMuted   = lipgloss.Color("#6B7280")
	ColorSuccess = lipgloss.Color("#10B981")
	ColorError   = lipgloss.Color("#EF4444")
	ColorWarning = lipgloss.Color("#F59E0B")
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	ErrorStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorError)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
)

// styler decorates report fragments. plain leaves text untouched so the
// text summary stays byte-for-byte deterministic.
type styler struct {
	title   func(string) string
	muted   func(string) string
	status  func(runner.StepStatus) string
	verdict func(runner.Verdict) string
}

var plain = styler{
	title:   func(s string) string { return s },
	muted:   func(s string) string { return s },
	status:  statusLabel,
	verdict: VerdictLabel,
}

var styled = styler{
	title: func(s string) string { return TitleStyle.Render(s) },
	muted: func(s string) string { return MutedStyle.Render(s) },
	status: func(s runner.StepStatus) string {
		return styleFor(s).Render(statusLabel(s))
	},
	verdict: func(v runner.Verdict) string {
		switch v {
		case runner.VerdictFail:
			return ErrorStyle.Render(VerdictLabel(v))
		case runner.VerdictPassWithWarnings:
			return WarningStyle.Render(VerdictLabel(v))
		}
		return SuccessStyle.Render(VerdictLabel(v))
	},
}

func styleFor(s runner.StepStatus) lipgloss.Style {
	switch s {
	case runner.StatusFail:
		return ErrorStyle
	case runner.StatusWarn:
		return WarningStyle
	}
	return SuccessStyle
}
