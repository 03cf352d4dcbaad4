package cli

import (
	"fmt"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
)

// Description is the one-line summary shown in help and the banner.
const Description = "Pump decoded audio frames out of WAV, FLAC, MP3 and Ogg files."

var (
	helpTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PumpCyan).
			MarginBottom(1)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(PumpTeal).
			Italic(true).
			MarginBottom(1)

	helpSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(PumpTeal).
				MarginTop(1)

	helpFlagStyle = lipgloss.NewStyle().
			Foreground(PumpCyan).
			Bold(true)

	helpArgStyle = lipgloss.NewStyle().
			Foreground(PumpBlue).
			Bold(true)

	helpDefaultStyle = lipgloss.NewStyle().
				Foreground(SlateGray).
				Italic(true)
)

// StyledHelpPrinter returns a kong help printer using the lipgloss theme. With
// a command selected it shows that command's arguments and flags; otherwise it
// lists the commands.
func StyledHelpPrinter(options kong.HelpOptions) kong.HelpPrinter {
	return func(options kong.HelpOptions, ctx *kong.Context) error {
		var sb strings.Builder

		sb.WriteString(helpTitleStyle.Render("audiopump 🔊"))
		sb.WriteString("\n")
		sb.WriteString(helpDescStyle.Render(Description))
		sb.WriteString("\n")

		node := ctx.Model.Node
		if selected := ctx.Selected(); selected != nil {
			node = selected
		}

		sb.WriteString(helpSectionStyle.Render("Usage:"))
		sb.WriteString("\n  ")
		sb.WriteString(usageLine(ctx.Model.Name, node))
		sb.WriteString("\n")

		if node == ctx.Model.Node {
			writeCommands(&sb, node)
		} else if node.Help != "" && !options.Compact {
			sb.WriteString("\n  ")
			sb.WriteString(node.Help)
			sb.WriteString("\n")
		}

		if args := getArguments(node); len(args) > 0 {
			sb.WriteString("\n")
			sb.WriteString(helpSectionStyle.Render("Arguments:"))
			sb.WriteString("\n")
			for _, arg := range args {
				sb.WriteString("  ")
				sb.WriteString(helpArgStyle.Render(arg.name))
				if arg.help != "" {
					sb.WriteString("  ")
					sb.WriteString(arg.help)
				}
				sb.WriteString("\n")
			}
		}

		if flags := getFlags(ctx.Model.Node, node); len(flags) > 0 {
			sb.WriteString("\n")
			sb.WriteString(helpSectionStyle.Render("Flags:"))
			sb.WriteString("\n")
			for _, flag := range flags {
				sb.WriteString("  ")
				sb.WriteString(helpFlagStyle.Render(flag.flags))
				if flag.help != "" {
					sb.WriteString("  ")
					sb.WriteString(flag.help)
				}
				if flag.defaultVal != "" {
					sb.WriteString(" ")
					sb.WriteString(helpDefaultStyle.Render("(default: " + flag.defaultVal + ")"))
				}
				sb.WriteString("\n")
			}
		}

		sb.WriteString("\n")
		fmt.Fprint(ctx.Stdout, sb.String())
		return nil
	}
}

func usageLine(app string, node *kong.Node) string {
	if node.Type == kong.ApplicationNode {
		return app + " <command> [flags]"
	}
	parts := []string{app, node.Name}
	for _, arg := range node.Positional {
		parts = append(parts, arg.Summary())
	}
	return strings.Join(parts, " ") + " [flags]"
}

func writeCommands(sb *strings.Builder, node *kong.Node) {
	var cmds []*kong.Node
	for _, child := range node.Children {
		if child.Type == kong.CommandNode && !child.Hidden {
			cmds = append(cmds, child)
		}
	}
	if len(cmds) == 0 {
		return
	}
	sb.WriteString("\n")
	sb.WriteString(helpSectionStyle.Render("Commands:"))
	sb.WriteString("\n")
	for _, cmd := range cmds {
		sb.WriteString("  ")
		sb.WriteString(helpArgStyle.Render(usageLine("", cmd)[1:]))
		if cmd.Help != "" {
			sb.WriteString("  ")
			sb.WriteString(cmd.Help)
		}
		sb.WriteString("\n")
	}
}

type argument struct {
	name string
	help string
}

type flag struct {
	flags      string
	help       string
	defaultVal string
}

func getArguments(node *kong.Node) []argument {
	var args []argument
	for _, arg := range node.Positional {
		args = append(args, argument{name: arg.Summary(), help: arg.Help})
	}
	return args
}

// getFlags lists the application flags followed by those of the selected
// command.
func getFlags(app, node *kong.Node) []flag {
	flags := []flag{{
		flags: "-h, --help",
		help:  "Show context-sensitive help.",
	}}

	nodes := []*kong.Node{app}
	if node != app {
		nodes = append(nodes, node)
	}
	for _, n := range nodes {
		for _, f := range n.Flags {
			if f.Name == "help" || f.Hidden {
				continue
			}

			flagStr := fmt.Sprintf("--%s", f.Name)
			if f.Short != 0 {
				flagStr = fmt.Sprintf("-%c, --%s", f.Short, f.Name)
			}
			if !f.IsBool() && f.PlaceHolder != "" {
				flagStr += "=" + strings.ToUpper(f.PlaceHolder)
			}

			// Only meaningful defaults, not type placeholders.
			defaultVal := ""
			if f.HasDefault && !f.IsBool() {
				if val := f.Default; val != "" && val != "STRING" && val != "BOOL" {
					defaultVal = val
				}
			}

			flags = append(flags, flag{
				flags:      flagStr,
				help:       f.Help,
				defaultVal: defaultVal,
			})
		}
	}
	return flags
}
