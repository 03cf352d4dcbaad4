package main

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	_ "github.com/linuxmatters/audiopump/codec/opus"
	"github.com/linuxmatters/audiopump/internal/analysis"
	"github.com/linuxmatters/audiopump/internal/cli"
	"github.com/linuxmatters/audiopump/internal/config"
	"github.com/linuxmatters/audiopump/internal/ui"
	"github.com/linuxmatters/audiopump/media"
	"github.com/linuxmatters/audiopump/session"
)

// version is set via ldflags at build time
// Local dev builds: "dev"
// Release builds: git tag (e.g. "v0.1.0")
var version = "dev"

type versionFlag bool

func (versionFlag) BeforeReset(app *kong.Kong) error {
	cli.PrintVersion(version)
	app.Exit(0)
	return nil
}

type Globals struct {
	Verbose bool        `short:"v" help:"Log container and decoder activity to stderr"`
	Version versionFlag `help:"Show version information"`
}

func (g *Globals) options(extra ...session.Option) []session.Option {
	logger := log.New(io.Discard, "", 0)
	if g.Verbose {
		logger = log.New(os.Stderr, "audiopump: ", 0)
	}
	opts := []session.Option{
		session.WithLogger(logger),
		session.WithProbeSize(config.ProbeSize),
	}
	return append(opts, extra...)
}

var CLI struct {
	Globals

	Info   infoCmd   `cmd:"" help:"Show the audio stream description and tags."`
	Decode decodeCmd `cmd:"" help:"Decode every frame, then report levels and spectrum."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("audiopump"),
		kong.Description(cli.Description),
		kong.Vars{"version": version},
		kong.UsageOnError(),
		kong.Help(cli.StyledHelpPrinter(kong.HelpOptions{Compact: true})),
	)

	if err := ctx.Run(&CLI.Globals); err != nil {
		cli.PrintError(err.Error())
		os.Exit(exitCode(err))
	}
}

// exitCode separates inputs that cannot be opened from failures part way
// through decoding.
func exitCode(err error) int {
	switch media.KindOf(err) {
	case media.ErrOpen, media.ErrStreamSelection, media.ErrDecoderInit:
		return 2
	}
	return 1
}

type infoCmd struct {
	File string `arg:"" name:"file" help:"Audio file to inspect" type:"existingfile"`
}

func (c *infoCmd) Run(g *Globals) error {
	s, err := session.Open(c.File, g.options()...)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Print(renderInfo(c.File, s.Info()))
	return nil
}

func renderInfo(path string, info session.StreamInfo) string {
	bitDepth := ""
	if info.BitDepth > 0 {
		bitDepth = fmt.Sprintf("%d", info.BitDepth)
	}
	duration := "unknown"
	if !info.Duration.IsZero() {
		duration = cli.FormatTimestamp(info.Duration.Duration())
	}

	out := cli.TitleStyle.Render(path) + "\n" + cli.KeyValues([][2]string{
		{"Format", info.FormatName},
		{"Codec", info.CodecName},
		{"Stream", fmt.Sprintf("%d", info.StreamIndex)},
		{"Sample rate", fmt.Sprintf("%d Hz", info.SampleRate)},
		{"Channels", fmt.Sprintf("%d", info.Channels)},
		{"Sample format", info.SampleFormat.String()},
		{"Bit depth", bitDepth},
		{"Duration", duration},
	}) + "\n"

	if info.Tags.Len() > 0 {
		var pairs [][2]string
		for k, v := range info.Tags.All() {
			pairs = append(pairs, [2]string{k, v})
		}
		out += cli.HeaderStyle.Render("Tags") + "\n" + cli.KeyValues(pairs) + "\n"
	}
	return out
}

type decodeCmd struct {
	File            string `arg:"" name:"file" help:"Audio file to decode" type:"existingfile"`
	NoTUI           bool   `name:"no-tui" help:"Print plain progress lines instead of the interactive display"`
	MaxDecodeErrors int    `help:"Give up after this many consecutive undecodable packets, 0 for never" default:"0"`
}

func (c *decodeCmd) Run(g *Globals) error {
	if c.MaxDecodeErrors < 0 {
		return fmt.Errorf("invalid --max-decode-errors value: %d (must be 0 or more)", c.MaxDecodeErrors)
	}
	s, err := session.Open(c.File, g.options(session.WithMaxDecodeErrors(c.MaxDecodeErrors))...)
	if err != nil {
		return err
	}
	defer s.Close()

	info := s.Info()
	var total int64
	if !info.Duration.IsZero() {
		total = int64(math.Round(info.Duration.Float64() * float64(info.SampleRate)))
	}
	an := analysis.New(info.Channels, info.SampleRate)

	if c.NoTUI || g.Verbose || !isatty.IsTerminal(os.Stdout.Fd()) {
		var last time.Time
		result := pump(s, an, total, nil, func(p ui.DecodeProgress) {
			if time.Since(last) < config.PlainUpdateInterval {
				return
			}
			last = time.Now()
			fmt.Fprintln(os.Stderr, ui.ProgressLine(info, p))
		})
		fmt.Print(ui.RenderSummary(c.File, info, result, config.NumBars))
		return result.Err
	}

	model := ui.NewModel(c.File, info)
	p := tea.NewProgram(model)

	var stop atomic.Bool
	var result ui.DecodeComplete
	done := make(chan struct{})
	go func() {
		defer close(done)
		result = pump(s, an, total, &stop, func(msg ui.DecodeProgress) { p.Send(msg) })
		p.Send(result)
	}()

	if _, err := p.Run(); err != nil {
		stop.Store(true)
		<-done
		return fmt.Errorf("running UI: %w", err)
	}
	stop.Store(true)
	<-done

	if model.Cancelled() {
		cli.PrintWarning("decode cancelled")
		fmt.Print(ui.RenderSummary(c.File, info, result, config.NumBars))
	}
	return result.Err
}

// pump pulls every frame from s into an, reporting at most once per
// config.UpdateInterval. A non-nil stop ends the loop early when set.
func pump(s *session.Session, an *analysis.Analyzer, total int64, stop *atomic.Bool, report func(ui.DecodeProgress)) ui.DecodeComplete {
	start := time.Now()
	var last time.Time
	var err error
	for stop == nil || !stop.Load() {
		var frame *media.Frame
		frame, err = s.NextFrame()
		if err == io.EOF {
			err = nil
			break
		}
		if err != nil {
			break
		}
		an.Add(frame)
		frame.Release()

		if time.Since(last) >= config.UpdateInterval {
			last = time.Now()
			st := s.Stats()
			report(ui.DecodeProgress{
				Frames:       st.Frames,
				Samples:      st.Samples,
				TotalSamples: total,
				DecodeErrors: st.DecodeErrors,
				Elapsed:      time.Since(start),
				BarHeights:   an.Bars(),
			})
		}
	}
	return ui.DecodeComplete{
		Stats:   s.Stats(),
		Profile: an.Profile(),
		Elapsed: time.Since(start),
		Err:     err,
	}
}
