package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var highlightStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00D7FF"))

// Console prints operator-facing status lines. Every line is flushed as soon as it
// is written so device codes and tokens show up even when stdout is a pipe.
type Console struct {
	mu     sync.Mutex
	w      *bufio.Writer
	styled bool
}

// NewConsole wraps w. Highlighting is only enabled when w is a terminal.
func NewConsole(w io.Writer) *Console {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &Console{w: bufio.NewWriter(w), styled: styled}
}

// Stdout returns a console bound to the process standard output.
func Stdout() *Console {
	return NewConsole(os.Stdout)
}

// Println writes the operands followed by a newline and flushes.
func (c *Console) Println(a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, a...)
	_ = c.w.Flush()
}

// Printf formats a single line, appends a newline and flushes.
func (c *Console) Printf(format string, a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, format, a...)
	_ = c.w.WriteByte('\n')
	_ = c.w.Flush()
}

// Highlight renders s in the accent style on terminals and returns it unchanged otherwise.
func (c *Console) Highlight(s string) string {
	if !c.styled {
		return s
	}
	return highlightStyle.Render(s)
}
