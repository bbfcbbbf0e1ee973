// internal/display/analysis.go
package display

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"nutriscan/internal/models"
)

// Analysis is the analysis view's state: the record on screen and whether
// it is visible. When built with a writer, every Show also renders.
type Analysis struct {
	out    io.Writer
	logger *zap.Logger

	mu      sync.Mutex
	record  models.NutritionRecord
	visible bool
	shown   int
}

type Option func(*Analysis)

// WithLogger reports render failures. They never undo a Show: the record
// stays current even if the terminal went away.
func WithLogger(l *zap.Logger) Option {
	return func(a *Analysis) {
		if l != nil {
			a.logger = l.Named("display")
		}
	}
}

func NewAnalysis(out io.Writer, opts ...Option) *Analysis {
	a := &Analysis{out: out, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Analysis) Show(record models.NutritionRecord) {
	a.mu.Lock()
	a.record = record
	a.visible = true
	a.shown++
	a.mu.Unlock()

	if a.out != nil {
		if err := RenderAnalysis(a.out, record); err != nil {
			a.logger.Warn("failed to render analysis",
				zap.String("barcode", record.Barcode), zap.Error(err))
		}
	}
}

// Current returns the record on screen, if any.
func (a *Analysis) Current() (models.NutritionRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record, a.visible
}

func (a *Analysis) Dismiss() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.visible = false
}

// Shown counts Show calls since creation.
func (a *Analysis) Shown() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shown
}

// MacroIndicator maps a gram quantity onto the 0-100 fill of its bar.
func MacroIndicator(grams float64) float64 {
	switch {
	case grams < 0:
		return 0
	case grams > 100:
		return 100
	}
	return grams
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	headingStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	badgeStyle   = lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(lipgloss.Color("#ffffff"))
	outlineStyle = lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.NormalBorder(), false, true)
	bannerStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).MarginTop(1)
)

func scoreColor(s models.Score) lipgloss.Color {
	switch s {
	case models.ScoreA:
		return lipgloss.Color("#22c55e")
	case models.ScoreB:
		return lipgloss.Color("#3b82f6")
	case models.ScoreC:
		return lipgloss.Color("#eab308")
	case models.ScoreD:
		return lipgloss.Color("#f97316")
	case models.ScoreE:
		return lipgloss.Color("#ef4444")
	}
	return lipgloss.Color("#6b7280")
}

func statusColor(s models.Status) lipgloss.Color {
	switch s {
	case models.StatusHealthy:
		return lipgloss.Color("#16a34a")
	case models.StatusModerate:
		return lipgloss.Color("#ca8a04")
	case models.StatusAvoid:
		return lipgloss.Color("#dc2626")
	}
	return lipgloss.Color("#4b5563")
}

func statusIcon(s models.Status) string {
	if s == models.StatusHealthy {
		return "✔"
	}
	return "⚠"
}

func scoreBadge(s models.Score) string {
	return badgeStyle.Background(scoreColor(s)).Render(string(s))
}

func grams(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "g"
}

// RenderAnalysis writes the full nutrition analysis for a record. Lists
// with no entries are left out entirely.
func RenderAnalysis(w io.Writer, r models.NutritionRecord) error {
	var b strings.Builder

	b.WriteString(titleStyle.Render(r.ProductName) + "\n")
	b.WriteString(mutedStyle.Render("Barcode: "+r.Barcode) + "\n\n")

	b.WriteString(scoreBadge(r.NutritionScore) + " " + titleStyle.Render("Nutri-Score") + " " +
		mutedStyle.Render("Nutritional quality rating") + "\n")

	b.WriteString(headingStyle.Render("Energy") + "\n")
	b.WriteString(fmt.Sprintf("%s kcal per 100g\n", strconv.FormatFloat(r.Calories, 'f', -1, 64)))

	b.WriteString(headingStyle.Render("Macronutrients (per 100g)") + "\n")
	bar := progress.New(progress.WithWidth(24), progress.WithoutPercentage(), progress.WithSolidFill("#22c55e"))
	for _, m := range []struct {
		name  string
		value float64
	}{
		{"Carbs", r.Macros.Carbs},
		{"Protein", r.Macros.Protein},
		{"Fat", r.Macros.Fat},
		{"Fiber", r.Macros.Fiber},
	} {
		b.WriteString(fmt.Sprintf("%-8s %8s  %s\n", m.name, grams(m.value), bar.ViewAs(MacroIndicator(m.value)/100)))
	}

	status := r.Recommendation.Status
	banner := titleStyle.Render(statusIcon(status)+" "+capitalize(string(status))) + "\n" + r.Recommendation.Reason
	b.WriteString(bannerStyle.BorderForeground(statusColor(status)).Foreground(statusColor(status)).Render(banner) + "\n")

	writeList(&b, "Health Benefits", r.HealthBenefits)
	writeList(&b, "Concerns", r.Concerns)
	writeBadges(&b, "Allergens", r.Allergens)
	writeBadges(&b, "Additives", r.Additives)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(headingStyle.Render(title) + "\n")
	for _, item := range items {
		b.WriteString("  • " + item + "\n")
	}
}

func writeBadges(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(headingStyle.Render(title) + "\n")
	badges := make([]string, 0, len(items))
	for _, item := range items {
		badges = append(badges, outlineStyle.Render(item))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, badges...) + "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
