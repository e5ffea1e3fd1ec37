package main

import (
	"fmt"
	"io"
	"sync"

	"chromate/internal/domain"
)

// consoleEvents prints session events for terminal use.
type consoleEvents struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsoleEvents(out io.Writer) *consoleEvents {
	return &consoleEvents{out: out}
}

func (c *consoleEvents) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *consoleEvents) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	c.printf("[%s] %s\n", state, reason)
}

func (c *consoleEvents) PartialTranscript(string) {}

func (c *consoleEvents) FinalTranscript(raw string, normalized string) {
	if raw == normalized {
		c.printf("> %s\n", raw)
		return
	}
	c.printf("> %s (%s)\n", raw, normalized)
}

func (c *consoleEvents) ActionExecuted(action domain.Action) {
	switch {
	case action.URL != "":
		c.printf("= %s %s\n", action.Kind, action.URL)
	case action.Query != "":
		c.printf("= %s %q\n", action.Kind, action.Query)
	case action.Direction != "":
		c.printf("= %s %s\n", action.Kind, action.Direction)
	default:
		c.printf("= %s\n", action.Kind)
	}
}

func (c *consoleEvents) IndicatorChanged(visible bool) {
	if visible {
		c.printf("(listening for a command)\n")
	}
}

func (c *consoleEvents) SessionError(code domain.ErrorCode, detail string) {
	c.printf("! %s: %s\n", code, detail)
}
