package shared

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

type StringWriteCloser interface {
	io.Closer
	io.StringWriter
}

type WriteCloser struct {
	w io.WriteCloser
}

func NewWriteCloser(w io.WriteCloser) StringWriteCloser {
	if w == nil {
		return nil
	}
	return &WriteCloser{w: w}
}

func (wc *WriteCloser) WriteString(s string) (n int, err error) {
	return wc.w.Write([]byte(s))
}

func (wc *WriteCloser) Close() error {
	return wc.w.Close()
}

// Speaker labels a transcript line.
type Speaker string

const (
	SpeakerUser      Speaker = "you"
	SpeakerAssistant Speaker = "guide"
	SpeakerSystem    Speaker = "system"
)

var speakerStyles = map[Speaker]lipgloss.Style{
	SpeakerUser:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#979797")),
	SpeakerAssistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#07c160")),
	SpeakerSystem:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#ff4d4f")),
}

type Printer struct {
	mu     sync.Mutex
	indStr string
	hooks  []StringWriteCloser
	// true while an assistant utterance is streaming on the current line
	inLine bool
}

func NewPrinter(indentString string, hooks ...StringWriteCloser) (*Printer, error) {
	if len(hooks) == 0 {
		return nil, errors.New("no hook provided")
	}
	for _, hook := range hooks {
		if hook == nil {
			return nil, errors.New("a nil pointed hook is given")
		}
	}
	return &Printer{indStr: indentString, hooks: hooks}, nil
}

func (p *Printer) write(s string) error {
	for _, hook := range p.hooks {
		if _, err := hook.WriteString(s); err != nil {
			return fmt.Errorf("on writing to hook: %w", err)
		}
	}
	return nil
}

func (p *Printer) indent(s string, ind int) string {
	indent := strings.Repeat(p.indStr, ind)
	return indent + strings.ReplaceAll(s, "\n", "\n"+indent)
}

func (p *Printer) breakLine() error {
	if !p.inLine {
		return nil
	}
	p.inLine = false
	return p.write("\n")
}

func (p *Printer) Write(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.breakLine(); err != nil {
		return err
	}
	return p.write(p.indent(s, ind))
}

func (p *Printer) Writeln(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.breakLine(); err != nil {
		return err
	}
	return p.write(p.indent(s, ind) + "\n")
}

// Say prints a complete line attributed to speaker.
func (p *Printer) Say(speaker Speaker, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.breakLine(); err != nil {
		return err
	}
	return p.write(p.label(speaker) + text + "\n")
}

// Stream appends a fragment of a line attributed to speaker, starting the
// line on the first fragment. The line is terminated by the next Say,
// Write, Writeln or EndStream.
func (p *Printer) Stream(speaker Speaker, fragment string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inLine {
		p.inLine = true
		return p.write(p.label(speaker) + fragment)
	}
	return p.write(fragment)
}

func (p *Printer) EndStream() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.breakLine()
}

func (p *Printer) label(speaker Speaker) string {
	style, ok := speakerStyles[speaker]
	if !ok {
		style = lipgloss.NewStyle()
	}
	return p.indStr + style.Render(string(speaker)+":") + " "
}

func (p *Printer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hook := range p.hooks {
		if err := hook.Close(); err != nil {
			return fmt.Errorf("on closing hook: %w", err)
		}
	}
	return nil
}
