// internal/display/history.go
package display

import (
	"io"
	"strings"

	"nutriscan/internal/models"
)

// RenderHistory writes the recent scans list, newest first as given.
func RenderHistory(w io.Writer, scans []models.ScanResult) error {
	var b strings.Builder

	if len(scans) == 0 {
		b.WriteString(titleStyle.Render("No Scan History") + "\n")
		b.WriteString(mutedStyle.Render("Start scanning products to build your history") + "\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString(titleStyle.Render("Recent Scans") + "\n")
	for _, s := range scans {
		b.WriteString("\n" + titleStyle.Render(s.ProductName) + "  " +
			statusIcon(s.Recommendation) + " " + scoreBadge(s.NutritionScore) + " Nutri-Score " + string(s.NutritionScore) + "\n")
		b.WriteString(mutedStyle.Render("Barcode: "+s.Barcode) + "\n")
		line := mutedStyle.Render(s.Timestamp.Local().Format("2006-01-02 15:04"))
		if len(s.Allergens) > 0 {
			line += "  " + strings.Join(s.Allergens, ", ")
		}
		b.WriteString(line + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}
