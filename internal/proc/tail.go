package proc

import (
	"strings"
	"sync"
)

// Tail is an io.Writer that keeps the last lines written to it
type Tail struct {
	mu      sync.Mutex
	lines   []string
	partial string
	max     int
}

// NewTail creates a Tail holding at most maxLines lines
func NewTail(maxLines int) *Tail {
	if maxLines <= 0 {
		maxLines = 50
	}
	return &Tail{
		lines: make([]string, 0, maxLines),
		max:   maxLines,
	}
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	text := t.partial + strings.ReplaceAll(string(p), "\r\n", "\n")
	parts := strings.Split(text, "\n")
	t.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		t.push(line)
	}
	return len(p), nil
}

func (t *Tail) push(line string) {
	if len(t.lines) >= t.max {
		t.lines = t.lines[1:]
	}
	t.lines = append(t.lines, line)
}

// Lines returns a copy of the retained lines, including an unterminated last line
func (t *Tail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, len(t.lines), len(t.lines)+1)
	copy(out, t.lines)
	if t.partial != "" {
		out = append(out, t.partial)
	}
	return out
}

// String joins the retained lines
func (t *Tail) String() string {
	return strings.Join(t.Lines(), "\n")
}
