package output

import (
	"fmt"
	"net"
	"strings"

	"github.com/fatih/color"
	"github.com/niels/staticserve/pkg/router"
)

// Default width for the separator lines
const DefaultWidth = 60

// StartupInfo describes a running site for the startup banner
type StartupInfo struct {
	Version   string
	Addr      string // bound public address
	AdminAddr string // bound admin address, empty when disabled
	StaticDir string
	Rules     []router.Rule
}

// TerminalFormatter renders human-facing output for the terminal
type TerminalFormatter struct {
	useColor bool
	width    int

	title  *color.Color
	url    *color.Color
	label  *color.Color
	subtle *color.Color
}

// NewTerminalFormatter creates a new terminal formatter. Color is forced on
// or off regardless of whether stdout is a terminal.
func NewTerminalFormatter(useColor bool) *TerminalFormatter {
	f := &TerminalFormatter{
		useColor: useColor,
		width:    DefaultWidth,
		title:    color.New(color.FgBlue, color.Bold),
		url:      color.New(color.FgGreen, color.Bold),
		label:    color.New(color.FgCyan),
		subtle:   color.New(color.FgHiBlack),
	}
	for _, c := range []*color.Color{f.title, f.url, f.label, f.subtle} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return f
}

// FormatStartup renders the banner printed once the listeners are bound
func (f *TerminalFormatter) FormatStartup(info StartupInfo) string {
	var sb strings.Builder

	sb.WriteString(f.title.Sprintf("staticserve %s", info.Version))
	sb.WriteString("\n")
	sb.WriteString(f.subtle.Sprint(strings.Repeat("-", f.width)))
	sb.WriteString("\n")

	sb.WriteString(f.row("Serving", info.StaticDir))
	sb.WriteString(f.row("Local", f.url.Sprint(URLFor(info.Addr))))
	if info.AdminAddr != "" {
		sb.WriteString(f.row("Metrics", f.url.Sprint(URLFor(info.AdminAddr)+"/metrics")))
	}

	if len(info.Rules) > 0 {
		sb.WriteString("\n")
		sb.WriteString(f.title.Sprint("Routes"))
		sb.WriteString("\n")
		for i, rule := range info.Rules {
			sb.WriteString(fmt.Sprintf("  %d. %-6s %-3s %s -> %s (%s)\n",
				i+1, rule.Match, rule.Pattern, f.label.Sprint(rule.Name), rule.Target, rule.Action))
		}
		sb.WriteString(fmt.Sprintf("  %d. %s\n", len(info.Rules)+1, f.label.Sprint(router.RuleNotFound)))
	}

	sb.WriteString(f.subtle.Sprint(strings.Repeat("-", f.width)))
	sb.WriteString("\n")
	return sb.String()
}

func (f *TerminalFormatter) row(label, value string) string {
	return fmt.Sprintf("  %s %s\n", f.label.Sprintf("%-8s", label+":"), value)
}

// URLFor turns a listen address into a clickable URL, using localhost for
// wildcard hosts.
func URLFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
