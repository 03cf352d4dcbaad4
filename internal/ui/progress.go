package ui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/linuxmatters/audiopump/internal/analysis"
	"github.com/linuxmatters/audiopump/internal/cli"
	"github.com/linuxmatters/audiopump/internal/config"
	"github.com/linuxmatters/audiopump/session"
)

// DecodeProgress reports how far the decode loop has got.
type DecodeProgress struct {
	Frames       int64
	Samples      int64 // per channel
	TotalSamples int64 // zero when the duration is unknown
	DecodeErrors int64
	Elapsed      time.Duration
	BarHeights   []float64
}

// DecodeComplete signals the end of the decode loop. Err is nil when the
// stream ended normally.
type DecodeComplete struct {
	Stats   session.Stats
	Profile *analysis.Profile
	Elapsed time.Duration
	Err     error
}

// progressQuitMsg is sent when it's time to quit after showing completion
type progressQuitMsg struct{}

// Model is the bubbletea model shown while a file decodes.
type Model struct {
	progressBar progress.Model
	path        string
	info        session.StreamInfo

	state    DecodeProgress
	complete *DecodeComplete

	startTime       time.Time
	width           int
	completionDelay time.Duration
	cancelled       bool
}

// NewModel creates the progress model for decoding path.
func NewModel(path string, info session.StreamInfo) *Model {
	p := progress.New(
		progress.WithGradient(string(cli.PumpNavy), string(cli.PumpCyan)),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)
	return &Model{
		progressBar:     p,
		path:            path,
		info:            info,
		startTime:       time.Now(),
		completionDelay: config.CompletionDelay,
	}
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = max(10, min(msg.Width-30, 50))
		return m, nil

	case DecodeProgress:
		m.state = msg
		return m, nil

	case DecodeComplete:
		m.complete = &msg
		return m, tea.Tick(m.completionDelay, func(time.Time) tea.Msg {
			return progressQuitMsg{}
		})

	case progressQuitMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		if m.complete != nil {
			return m, tea.Quit
		}
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.cancelled = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// Cancelled reports whether the user quit before decoding finished.
func (m *Model) Cancelled() bool { return m.cancelled }

// View renders the UI
func (m *Model) View() string {
	if m.complete != nil {
		return m.CompletionSummary()
	}
	return m.renderProgress()
}

// CompletionSummary returns the final summary for printing after the program
// exits, or "" while decoding is still running.
func (m *Model) CompletionSummary() string {
	if m.complete == nil {
		return ""
	}
	return RenderSummary(m.path, m.info, *m.complete, m.spectrumWidth())
}

func (m *Model) spectrumWidth() int {
	if m.width > 10 {
		return min(m.width-10, config.NumBars)
	}
	return config.NumBars
}

func (m *Model) renderProgress() string {
	var s strings.Builder

	s.WriteString(lipgloss.NewStyle().Bold(true).Foreground(cli.PumpCyan).Render("audiopump 🔊"))
	s.WriteString("\n")
	s.WriteString(lipgloss.NewStyle().Foreground(cli.PumpTeal).Render("Decoding " + filepath.Base(m.path)))
	s.WriteString("\n")
	s.WriteString(lipgloss.NewStyle().Faint(true).Render(describeStream(m.info)))
	s.WriteString("\n\n")

	elapsed := m.state.Elapsed
	if elapsed == 0 {
		elapsed = time.Since(m.startTime)
	}
	position := samplesToDuration(m.state.Samples, m.info.SampleRate)
	var speed float64
	if elapsed > 0 {
		speed = float64(position) / float64(elapsed)
	}

	if m.state.TotalSamples > 0 {
		percent := min(float64(m.state.Samples)/float64(m.state.TotalSamples), 1)
		s.WriteString("Progress: ")
		s.WriteString(m.progressBar.ViewAs(percent))
		s.WriteString(fmt.Sprintf("  %d%%", int(percent*100)))
		s.WriteString("\n\n")

		total := samplesToDuration(m.state.TotalSamples, m.info.SampleRate)
		var eta time.Duration
		if percent > 0 {
			eta = time.Duration(float64(elapsed)/percent) - elapsed
		}
		s.WriteString(lipgloss.NewStyle().Faint(true).Render(fmt.Sprintf("Audio: %s / %s  │  Speed: %s  │  ETA: %s",
			cli.FormatTimestamp(position), cli.FormatTimestamp(total), cli.FormatSpeed(speed), formatDuration(eta))))
	} else {
		s.WriteString(lipgloss.NewStyle().Faint(true).Render("Decoding..."))
		s.WriteString(fmt.Sprintf("  %s  │  Speed: %s", cli.FormatTimestamp(position), cli.FormatSpeed(speed)))
	}
	s.WriteString("\n")
	s.WriteString(lipgloss.NewStyle().Faint(true).Italic(true).Render(
		fmt.Sprintf("%d frames  │  %d decode errors  │  Elapsed: %s", m.state.Frames, m.state.DecodeErrors, formatDuration(elapsed))))
	s.WriteString("\n")

	if len(m.state.BarHeights) > 0 {
		s.WriteString("\n")
		s.WriteString(lipgloss.NewStyle().Foreground(cli.PumpTeal).Render("Live spectrum:"))
		s.WriteString("\n")
		mirrored := make([]float64, len(m.state.BarHeights))
		analysis.RearrangeFrequenciesCenterOut(m.state.BarHeights, mirrored)
		s.WriteString(renderSpectrum(mirrored, m.spectrumWidth()))
	}

	return lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(cli.PumpBlue).
		Padding(1, 2).
		Render(s.String())
}

func samplesToDuration(samples int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(samples * int64(time.Second) / int64(rate))
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
