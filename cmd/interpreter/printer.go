package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/martinemde/interpreter/agentloop"
	"github.com/mattn/go-isatty"
)

// printer renders response events to a terminal. Styles are dropped when
// the output is not a terminal.
type printer struct {
	w io.Writer

	codeStyle   lipgloss.Style
	labelStyle  lipgloss.Style
	outputStyle lipgloss.Style
	warnStyle   lipgloss.Style
	promptStyle lipgloss.Style

	// midLine is set while the cursor is not at the start of a line.
	midLine bool
}

func newPrinter(f *os.File) *printer {
	color := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	return newPrinterTo(f, color)
}

func newPrinterTo(w io.Writer, color bool) *printer {
	p := &printer{
		w:           w,
		codeStyle:   lipgloss.NewStyle(),
		labelStyle:  lipgloss.NewStyle(),
		outputStyle: lipgloss.NewStyle(),
		warnStyle:   lipgloss.NewStyle(),
		promptStyle: lipgloss.NewStyle(),
	}
	if color {
		p.codeStyle = p.codeStyle.Foreground(lipgloss.Color("12"))
		p.labelStyle = p.labelStyle.Foreground(lipgloss.Color("8")).Italic(true)
		p.outputStyle = p.outputStyle.Foreground(lipgloss.Color("7"))
		p.warnStyle = p.warnStyle.Foreground(lipgloss.Color("11")).Bold(true)
		p.promptStyle = p.promptStyle.Foreground(lipgloss.Color("10")).Bold(true)
	}
	return p
}

func (p *printer) handle(ev agentloop.Event) {
	switch ev.Kind {
	case agentloop.EventDelta:
		d := ev.Delta
		if d.Language != "" {
			p.endBlock()
			p.line(p.labelStyle.Render(d.Language))
		}
		if d.Text != "" {
			p.write(d.Text)
		}
		if d.Code != "" {
			p.write(p.codeStyle.Render(d.Code))
		}
	case agentloop.EventEndOfMessage, agentloop.EventEndOfCode:
		p.endBlock()
	case agentloop.EventStartOfOutput:
		p.endBlock()
		p.line(p.labelStyle.Render("output"))
	case agentloop.EventOutput:
		p.line(p.outputStyle.Render(ev.Output))
	case agentloop.EventImage:
		p.line(p.labelStyle.Render("[image output]"))
	case agentloop.EventHTML:
		p.line(p.labelStyle.Render("[html output]"))
	case agentloop.EventEndOfOutput:
		p.endBlock()
	case agentloop.EventLoopDetection, agentloop.EventBudgetExceeded:
		p.warn(ev.Output)
	}
}

func (p *printer) write(s string) {
	fmt.Fprint(p.w, s)
	p.midLine = !strings.HasSuffix(s, "\n")
}

func (p *printer) line(s string) {
	p.endBlock()
	fmt.Fprintln(p.w, s)
	p.midLine = false
}

// endBlock finishes a partially written line.
func (p *printer) endBlock() {
	if p.midLine {
		p.newline()
	}
}

func (p *printer) newline() {
	fmt.Fprintln(p.w)
	p.midLine = false
}

func (p *printer) notice(s string) {
	p.line(p.labelStyle.Render(s))
}

func (p *printer) warn(s string) {
	p.line(p.warnStyle.Render(s))
}

func (p *printer) prompt() {
	p.endBlock()
	fmt.Fprint(p.w, p.promptStyle.Render("> "))
}
