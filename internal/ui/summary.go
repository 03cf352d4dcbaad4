package ui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/linuxmatters/audiopump/internal/cli"
	"github.com/linuxmatters/audiopump/session"
)

// meterFloor is the level shown as an empty meter.
const meterFloor = -60.0

func describeStream(info session.StreamInfo) string {
	parts := []string{
		fmt.Sprintf("%s in %s", info.CodecName, info.FormatName),
		fmt.Sprintf("%d Hz", info.SampleRate),
		channelLabel(info.Channels),
		info.SampleFormat.String(),
	}
	if info.BitDepth > 0 {
		parts = append(parts, fmt.Sprintf("%d-bit", info.BitDepth))
	}
	return strings.Join(parts, ", ")
}

func channelLabel(n int) string {
	switch n {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	}
	return fmt.Sprintf("%d channels", n)
}

// RenderSummary renders the end-of-decode report: counters, per-channel
// levels and the average spectrum.
func RenderSummary(path string, info session.StreamInfo, done DecodeComplete, spectrumWidth int) string {
	var s strings.Builder

	if done.Err != nil {
		s.WriteString(cli.ErrorStyle.Render("✗ Decode stopped"))
		s.WriteString("\n")
		s.WriteString(lipgloss.NewStyle().Faint(true).Render(done.Err.Error()))
	} else {
		s.WriteString(lipgloss.NewStyle().Bold(true).Foreground(cli.PumpCyan).Render("✓ Decode complete"))
	}
	s.WriteString("\n\n")

	audio := samplesToDuration(done.Stats.Samples, info.SampleRate)
	var speed float64
	if done.Elapsed > 0 {
		speed = float64(audio) / float64(done.Elapsed)
	}

	dimLabel := lipgloss.NewStyle().Faint(true)
	line := func(label, value string) {
		s.WriteString(fmt.Sprintf("%s%s\n", dimLabel.Render(fmt.Sprintf("%-15s", label)), value))
	}
	line("File:", filepath.Base(path))
	line("Stream:", describeStream(info))
	line("Frames:", fmt.Sprintf("%d", done.Stats.Frames))
	line("Samples:", fmt.Sprintf("%d per channel", done.Stats.Samples))
	line("Packets:", fmt.Sprintf("%d read, %d from other streams", done.Stats.PacketsRead, done.Stats.PacketsSkipped))
	errs := fmt.Sprintf("%d", done.Stats.DecodeErrors)
	if done.Stats.DecodeErrors > 0 {
		errs = cli.HighlightStyle.Render(errs)
	}
	line("Decode errors:", errs)
	line("Audio:", fmt.Sprintf("%s in %s (%s)", cli.FormatTimestamp(audio), formatDuration(done.Elapsed), cli.FormatSpeed(speed)))

	if p := done.Profile; p != nil && p.Samples > 0 {
		header := lipgloss.NewStyle().Bold(true).Foreground(cli.PumpTeal)
		s.WriteString("\n")
		s.WriteString(header.Render("Levels"))
		s.WriteString("\n")
		for ch, level := range p.Channels {
			s.WriteString(fmt.Sprintf("  %s %s %s  %s %s\n",
				dimLabel.Render(fmt.Sprintf("Ch %-2d", ch+1)),
				makeGradientBar(levelRatio(level.PeakDB()), 20),
				fmt.Sprintf("%-9s", cli.FormatDB(level.PeakDB())),
				dimLabel.Render("RMS"),
				cli.FormatDB(level.RMSDB())))
		}

		s.WriteString("\n")
		s.WriteString(header.Render("Spectrum"))
		s.WriteString(dimLabel.Render(fmt.Sprintf("  average of %d windows", p.Windows)))
		s.WriteString("\n")
		s.WriteString(renderSpectrum(p.Spectrum, spectrumWidth))
	}

	return lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(cli.PumpTeal).
		Padding(1, 2).
		Render(s.String()) + "\n"
}

// levelRatio maps a dBFS level onto 0.0-1.0 for a meter.
func levelRatio(db float64) float64 {
	switch {
	case db <= meterFloor:
		return 0
	case db >= 0:
		return 1
	}
	return (db - meterFloor) / -meterFloor
}

var meterColors = []lipgloss.Color{
	lipgloss.Color("#1A237E"),
	lipgloss.Color("#283593"),
	lipgloss.Color("#1565C0"),
	lipgloss.Color("#0288D1"),
	lipgloss.Color("#00ACC1"),
	lipgloss.Color("#00BFA5"),
	lipgloss.Color("#1DE9B6"),
	lipgloss.Color("#FFB300"), // close to full scale
}

// makeGradientBar draws a meter filled to ratio of width cells.
func makeGradientBar(ratio float64, width int) string {
	filled := max(0, min(int(ratio*float64(width)), width))

	var result strings.Builder
	for i := range width {
		if i < filled {
			pos := float64(i) / float64(width)
			idx := min(int(pos*float64(len(meterColors))), len(meterColors)-1)
			result.WriteString(lipgloss.NewStyle().Foreground(meterColors[idx]).Render("█"))
		} else {
			result.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("#2A2A2A")).Render("░"))
		}
	}
	return result.String()
}

// renderSpectrum draws bar heights as two rows of block characters, scaled so
// the tallest bar fills both rows.
func renderSpectrum(barHeights []float64, width int) string {
	if len(barHeights) == 0 || width <= 0 {
		return ""
	}

	blocks := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	stride := max(len(barHeights)/width, 1)

	maxHeight := 0.0
	for _, h := range barHeights {
		maxHeight = max(maxHeight, h)
	}
	if maxHeight == 0 {
		maxHeight = 1.0
	}

	displayHeights := make([]float64, 0, width)
	for i := 0; i < len(barHeights) && len(displayHeights) < width; i += stride {
		displayHeights = append(displayHeights, barHeights[i]/maxHeight)
	}

	colorFor := func(normalised float64) lipgloss.Color {
		idx := max(0, min(int(normalised*float64(len(meterColors)-2)), len(meterColors)-2))
		return meterColors[idx]
	}

	var result strings.Builder

	// Top row: the part of each bar above half height.
	for _, normalised := range displayHeights {
		if normalised > 0.5 {
			blockIdx := min(int((normalised-0.5)*2.0*float64(len(blocks)-1)), len(blocks)-1)
			result.WriteString(lipgloss.NewStyle().Foreground(colorFor(normalised)).Render(string(blocks[blockIdx])))
		} else {
			result.WriteString(" ")
		}
	}
	result.WriteString("\n")

	for _, normalised := range displayHeights {
		blockIdx := len(blocks) - 1
		if normalised < 0.5 {
			blockIdx = min(int(normalised*2.0*float64(len(blocks)-1)), len(blocks)-1)
		}
		result.WriteString(lipgloss.NewStyle().Foreground(colorFor(normalised)).Render(string(blocks[blockIdx])))
	}

	return result.String()
}

// ProgressLine formats a one-line progress report for non-interactive output.
func ProgressLine(info session.StreamInfo, p DecodeProgress) string {
	position := samplesToDuration(p.Samples, info.SampleRate)
	line := fmt.Sprintf("decoded %s", cli.FormatTimestamp(position))
	if p.TotalSamples > 0 {
		total := samplesToDuration(p.TotalSamples, info.SampleRate)
		percent := min(100*p.Samples/p.TotalSamples, 100)
		line += fmt.Sprintf(" / %s (%d%%)", cli.FormatTimestamp(total), percent)
	}
	line += fmt.Sprintf(", %d frames, %d decode errors, %s", p.Frames, p.DecodeErrors, formatDuration(p.Elapsed))
	return line
}
