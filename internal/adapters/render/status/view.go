package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/drawq/internal/application"
	"github.com/bnema/drawq/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	Now time.Time
	// BarWidth defaults to 24.
	BarWidth int
}

func renderView(statuses []application.InstanceStatus, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Account Pool"),
		s.header.Render(fmt.Sprintf("accounts: %d  alive: %d", len(statuses), countAlive(statuses))),
	}

	if len(statuses) == 0 {
		lines = append(lines, s.empty.Render("No accounts registered."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, status := range statuses {
		lines = append(lines, s.section.Render(renderAccount(status, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func countAlive(statuses []application.InstanceStatus) int {
	alive := 0
	for _, status := range statuses {
		if status.Alive {
			alive++
		}
	}
	return alive
}

func renderAccount(status application.InstanceStatus, opts RenderOptions, s styles) string {
	title := s.account.Render(accountTitle(status.Account))
	if flag := stateFlag(status); flag != "" {
		title = lipgloss.JoinHorizontal(lipgloss.Top, title, " ", s.warning.Render(flag))
	}

	parts := []string{title, s.detail.Render(detailLine(status, opts.Now))}
	for _, tier := range status.Tiers {
		parts = append(parts, tierLine(tier, opts, s))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func accountTitle(account domain.Account) string {
	name := strings.TrimSpace(account.Name)
	if name == "" {
		return fmt.Sprintf("%s (%s)", account.ID, account.Kind.Label())
	}
	return fmt.Sprintf("%s (%s, %s)", name, account.ID, account.Kind.Label())
}

func stateFlag(status application.InstanceStatus) string {
	switch {
	case !status.Account.Enabled && status.Account.DisabledReason != "":
		return fmt.Sprintf("[disabled: %s]", status.Account.DisabledReason)
	case !status.Account.Enabled:
		return "[disabled]"
	case !status.Alive:
		return "[offline]"
	default:
		return ""
	}
}

func detailLine(status application.InstanceStatus, now time.Time) string {
	parts := []string{fmt.Sprintf("version %d", status.Account.Version)}
	if forced := status.Account.Policy.ForcedMode; forced != "" {
		parts = append(parts, "forced "+string(forced))
	}
	parts = append(parts, fmt.Sprintf("running here: %d", status.Running))
	if status.QuotaKnown {
		parts = append(parts, "fast quota "+domain.CompactNumber(status.FastRemaining))
	}
	if !status.Account.UpdatedAt.IsZero() {
		parts = append(parts, formatUpdated(status.Account.UpdatedAt, now))
	}
	return strings.Join(parts, "  ")
}

func tierLine(tier application.TierStatus, opts RenderOptions, s styles) string {
	label := s.tierKey.Render(tier.Tier.Label() + ":")

	limit := tier.Core + tier.QueueCapacity
	if tier.QueueCapacity <= 0 {
		meta := s.tierMeta.Render(fmt.Sprintf("queued %d (unbounded)  executing %d", tier.Queued, tier.Executing))
		return lipgloss.JoinHorizontal(lipgloss.Top, label, " ", meta)
	}

	width := opts.BarWidth
	if width <= 0 {
		width = 24
	}
	used := float64(tier.Executing+tier.Queued) / float64(limit) * 100
	freePercent := clampPercent(100 - used)
	freeStyle := lipgloss.NewStyle().Foreground(interpolateColor(freePercent, 0, 100))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		label,
		" ",
		renderProgressBar(used, width, s),
		" ",
		freeStyle.Render(fmt.Sprintf("%2.0f%% free", freePercent)),
		" ",
		s.tierMeta.Render(fmt.Sprintf("(running %d/%d, queued %d/%d)", tier.Executing, tier.Core, tier.Queued, tier.QueueCapacity)),
	)
}

func renderProgressBar(usedPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	used := clampPercent(usedPercent)
	leftFraction := (100.0 - used) / 100.0
	filled := int(math.Round(float64(width) * leftFraction))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	empty := width - filled
	fillSegment := s.barFill.Render(strings.Repeat("=", filled))
	emptySegment := s.barEmpty.Render(strings.Repeat("-", empty))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		fillSegment,
		emptySegment,
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

func formatUpdated(updatedAt, now time.Time) string {
	if now.IsZero() || updatedAt.After(now) {
		return "updated " + updatedAt.Format(time.RFC3339)
	}

	elapsed := now.Sub(updatedAt)
	switch {
	case elapsed < time.Minute:
		return "updated just now"
	case elapsed < time.Hour:
		return fmt.Sprintf("updated %d min ago", int(elapsed.Minutes()))
	case elapsed < 24*time.Hour:
		hours := int(elapsed.Hours())
		if hours == 1 {
			return "updated 1 hour ago"
		}
		return fmt.Sprintf("updated %d hours ago", hours)
	default:
		return "updated " + updatedAt.Format("15:04 on 02 Jan")
	}
}

// interpolateColor maps value onto the 240..255 greyscale ramp: faded at min,
// bright at max.
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

	baseColor := 240.0
	targetColor := 255.0
	colorCode := int(baseColor + (targetColor-baseColor)*normalized)

	return lipgloss.Color(fmt.Sprintf("%d", colorCode))
}
