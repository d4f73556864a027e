package host

import (
	"fmt"
	"io"
	"sync"
)

// Console is a UI printing to a writer, the launcher uses it on Stdout.
type Console struct {
	w       io.Writer
	mu      sync.Mutex
	enabled map[string]bool
}

// NewConsole create a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, enabled: make(map[string]bool)}
}

func (c *Console) Toast(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "[toast] %s\n", text)
}

func (c *Console) Progress(title, message string) func() {
	c.mu.Lock()
	fmt.Fprintf(c.w, "[%s] %s ...\n", title, message)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		fmt.Fprintf(c.w, "[%s] done\n", title)
	}
}

func (c *Console) SetEnabled(action string, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled[action] = enabled
}

// Enabled reports the last state set for action.
func (c *Console) Enabled(action string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled[action]
}
