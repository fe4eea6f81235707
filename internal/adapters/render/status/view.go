package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/gemini-pool/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

const barWidth = 24

type RenderOptions struct {
	Now time.Time
}

func renderView(statuses []domain.AccountStatus, summary Summary, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Gemini Credential Pool"),
		s.header.Render(fmt.Sprintf("accounts: %d  available: %d  warm: %d", summary.Total, summary.Available, summary.Warm)),
	}

	if len(statuses) == 0 {
		lines = append(lines, s.empty.Render("No accounts loaded."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, status := range statuses {
		lines = append(lines, s.section.Render(renderAccount(status, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderAccount(status domain.AccountStatus, opts RenderOptions, s styles) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		s.account.Render(accountTitle(status)),
		stateLine(status, opts, s),
		scoreLine(status, s),
		s.detail.Render("token: "+formatExpiry(status.TokenExpiry, opts.Now)),
	)
}

func accountTitle(status domain.AccountStatus) string {
	project := strings.TrimSpace(status.ProjectID)
	if project == "" {
		project = "project pending"
	}
	return fmt.Sprintf("%s (%s)", status.ID, project)
}

func stateLine(status domain.AccountStatus, opts RenderOptions, s styles) string {
	label := s.label.Render("state:")

	switch {
	case !status.Available:
		return label + " " + s.warning.Render("quarantined "+formatRemaining(status.QuarantinedUntil, opts.Now))
	case !status.Warm:
		return label + " " + s.cold.Render("cold")
	default:
		return label + " " + s.ok.Render("ready")
	}
}

func scoreLine(status domain.AccountStatus, s styles) string {
	share := successShare(status.SuccessScore, status.FailureScore)
	meta := lipgloss.NewStyle().Foreground(interpolateColor(share, 0, 100)).
		Render(fmt.Sprintf("%3.0f%% success", share))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.label.Render("score:"),
		" ",
		renderProgressBar(share, barWidth, s),
		" ",
		meta,
		" ",
		s.header.Render(fmt.Sprintf("(%.1f/%.1f)", status.SuccessScore, status.FailureScore)),
	)
}

// successShare is the posterior mean of the account's Beta prior, in percent.
func successShare(success, failure float64) float64 {
	total := success + failure
	if total <= 0 {
		return 50
	}
	return clampPercent(100 * success / total)
}

func renderProgressBar(percent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	filled := int(math.Round(float64(width) * clampPercent(percent) / 100))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatRemaining(until, now time.Time) string {
	if until.IsZero() {
		return "(unknown)"
	}
	if now.IsZero() {
		return "until " + until.Format(time.RFC3339)
	}
	if !until.After(now) {
		return "(expiring)"
	}
	return fmt.Sprintf("for %s (until %s)", humanDuration(until.Sub(now)), until.Format("15:04:05"))
}

func formatExpiry(expiry, now time.Time) string {
	switch {
	case expiry.IsZero():
		return "no expiry"
	case now.IsZero():
		return "expires " + expiry.Format(time.RFC3339)
	case !expiry.After(now):
		return "expired"
	default:
		return "expires in " + humanDuration(expiry.Sub(now))
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(math.Ceil(d.Seconds())))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(math.Ceil(d.Minutes())))
	default:
		hours := int(d.Hours())
		minutes := int(d.Minutes()) - hours*60
		return fmt.Sprintf("%dh%02dm", hours, minutes)
	}
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// 240 (faded grey) to 255 (bright white) on the 256-colour greyscale ramp.
	return lipgloss.Color(fmt.Sprintf("%d", int(240+15*normalized)))
}
