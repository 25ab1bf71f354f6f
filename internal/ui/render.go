package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/eliteGoblin/dictd/internal/domain"
	"github.com/eliteGoblin/dictd/internal/protocol"
)

// Printer writes human-readable CLI output.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	isTTY  bool
	styles styles
	errSt  styles
}

// NewPrinter creates a printer for stdout and stderr.
func NewPrinter(stdout, stderr *os.File) *Printer {
	p := NewPrinterTo(stdout, stderr)
	p.isTTY = term.IsTerminal(int(stdout.Fd()))
	return p
}

// NewPrinterTo creates a printer for arbitrary writers. Output is never treated as a terminal.
func NewPrinterTo(out, errOut io.Writer) *Printer {
	return &Printer{
		out:    out,
		errOut: errOut,
		styles: newStyles(out),
		errSt:  newStyles(errOut),
	}
}

// IsTTY reports whether stdout is a terminal.
func (p *Printer) IsTTY() bool {
	return p.isTTY
}

// Response prints the outcome of one daemon command.
func (p *Printer) Response(resp *protocol.Response) {
	if !resp.Success {
		fmt.Fprintln(p.errOut, p.errSt.err.Render("Error:")+" "+resp.Error)
		return
	}

	switch {
	case resp.Message != "":
		fmt.Fprintln(p.out, p.styles.success.Render("✓")+" "+resp.Message)
	case resp.State != "":
		fmt.Fprintln(p.out, p.stateLine(resp.State))
	}
	if resp.AudioPath != "" {
		fmt.Fprintln(p.out, p.styles.dim.Render("  audio: "+resp.AudioPath))
	}
}

// Status prints the state and session context.
func (p *Printer) Status(resp *protocol.Response) {
	if !resp.Success {
		p.Response(resp)
		return
	}

	fmt.Fprintln(p.out, p.stateLine(resp.State))
	if resp.Context == nil {
		return
	}
	if w := resp.Context.CurrentWindow; w != nil {
		label := w.WindowClass
		if w.WindowTitle != "" {
			label += " (" + w.WindowTitle + ")"
		}
		if w.IsCodeAware {
			label += " " + p.styles.dim.Render("[code]")
		}
		p.field("Window", label)
	}
	if e := resp.Context.LastError; e != nil {
		p.field("Last error", p.styles.warning.Render(*e))
	}
	if t := resp.Context.LastTranscription; t != nil {
		p.field("Last text", *t)
	}
}

// History prints transcriptions newest first.
func (p *Printer) History(entries []domain.Transcription) {
	if len(entries) == 0 {
		fmt.Fprintln(p.out, p.styles.dim.Render("No transcriptions yet."))
		return
	}
	for _, e := range entries {
		meta := e.CreatedAt.Local().Format(time.DateTime)
		if e.Duration > 0 {
			meta += " " + e.Duration.Round(100*time.Millisecond).String()
		}
		if e.WindowClass != "" {
			meta += " " + e.WindowClass
		}
		fmt.Fprintln(p.out, p.styles.dim.Render(fmt.Sprintf("#%d %s", e.ID, meta)))
		fmt.Fprintln(p.out, "  "+strings.ReplaceAll(e.Text, "\n", "\n  "))
	}
}

// Error prints guidance for err to stderr.
func (p *Printer) Error(err error, logPath string) {
	advice := Guidance(err, logPath)
	fmt.Fprintln(p.errOut, p.errSt.err.Render("Error:")+" "+advice.Summary)
	if advice.Hint != "" {
		fmt.Fprintln(p.errOut, p.errSt.hint.Render("  "+advice.Hint))
	}
}

// Info prints a plain line to stdout.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *Printer) stateLine(state domain.State) string {
	var styled string
	switch state {
	case domain.StateRecording:
		styled = p.styles.err.Render("● recording")
	case domain.StateTranscribing:
		styled = p.styles.warning.Render("◌ transcribing")
	default:
		styled = p.styles.success.Render("○ " + string(state))
	}
	return p.styles.title.Render("dictd") + " " + styled
}

func (p *Printer) field(label, value string) {
	fmt.Fprintf(p.out, "  %s %s\n", p.styles.label.Render(label+":"), value)
}
