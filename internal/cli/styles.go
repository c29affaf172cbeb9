package cli

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/satindergrewal/autoduck/internal/duck"
)

// Color palette
var (
	primaryColor = lipgloss.Color("#1E88E5")
	accentColor  = lipgloss.Color("#FFA500")
	mutedColor   = lipgloss.Color("#888888")
	textColor    = lipgloss.Color("#FFFFFF")
	activeColor  = lipgloss.Color("#E53935")
	quietColor   = lipgloss.Color("#43A047")
)

// Styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(activeColor)

	KeyStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	ValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor)

	activeStyle = lipgloss.NewStyle().Foreground(activeColor)
	quietStyle  = lipgloss.NewStyle().Foreground(quietColor)
)

// PrintVersion prints version information
func PrintVersion(version string) {
	fmt.Println(TitleStyle.Render("autoduck"))
	fmt.Printf("%s %s\n", KeyStyle.Render("Version:"), ValueStyle.Render(version))
	fmt.Println()
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render("Error:"), message)
}

// PrintSummary writes a short report of a finished ducking run.
func PrintSummary(w io.Writer, outputPath string, out *duck.Output, p duck.Params) {
	res := out.Result
	rows := [][2]string{
		{"Output:", outputPath},
		{"Format:", fmt.Sprintf("%s (%s)", out.Format, formatBytes(len(out.Data)))},
		{"Length:", res.Mixed.Duration().String()},
		{"Chunks:", fmt.Sprintf("%d × %d ms", len(res.Chunks), p.ChunkDurationMs)},
		{"Ducked:", fmt.Sprintf("%d heavy (-%g dB), %d light (-%g dB)",
			res.ActiveChunks(), p.DuckAmountDb, len(res.Chunks)-res.ActiveChunks(), p.LightDuckDb)},
		{"Loops:", fmt.Sprintf("%d", res.LoopCount)},
	}
	fmt.Fprintln(w, TitleStyle.Render("Ducking complete"))
	for _, r := range rows {
		fmt.Fprintf(w, "%s %s\n", KeyStyle.Render(fmt.Sprintf("%-8s", r[0])), ValueStyle.Render(r[1]))
	}
	fmt.Fprintln(w)
}

// PrintChunks writes one line per chunk with a level bar and the decision.
func PrintChunks(w io.Writer, chunks []duck.ChunkReport, threshold float64) {
	const barWidth = 30
	for _, c := range chunks {
		level := c.VoiceDbfs
		label := fmt.Sprintf("%6.1f dBFS", level)
		if math.IsInf(level, -1) {
			label = "   silence"
		}
		// -60 dBFS maps to an empty bar, 0 dBFS to a full one
		fill := int(math.Round((max(level, -60) + 60) / 60 * barWidth))
		bar := strings.Repeat("█", fill) + strings.Repeat("░", barWidth-fill)

		decision := quietStyle.Render(fmt.Sprintf("light -%g dB", c.AttenuationDb))
		if c.Active {
			decision = activeStyle.Render(fmt.Sprintf("heavy -%g dB", c.AttenuationDb))
		}
		fmt.Fprintf(w, "%s %s %s %s\n",
			KeyStyle.Render(fmt.Sprintf("%4d %8s", c.Index, c.Start)),
			bar, label, decision)
	}
	fmt.Fprintf(w, "%s\n\n", KeyStyle.Render(fmt.Sprintf("threshold %g dBFS", threshold)))
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
