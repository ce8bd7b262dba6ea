package main

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/twinlink/broker/internal/fallback"
	"github.com/twinlink/broker/internal/relay"
)

const defaultCommandTimeout = 25 * time.Second

// runner executes opened relay payloads on this machine.
type runner struct {
	assistant      *fallback.Client // nil when no assistant endpoint is configured
	commandTimeout time.Duration
}

func newRunner(assistant *fallback.Client, commandTimeout time.Duration) *runner {
	if commandTimeout <= 0 {
		commandTimeout = defaultCommandTimeout
	}
	return &runner{assistant: assistant, commandTimeout: commandTimeout}
}

// Run returns the response text and whether execution succeeded.
func (r *runner) Run(ctx context.Context, p relay.Payload) (string, bool) {
	switch p.Kind {
	case relay.KindConversation:
		return r.converse(ctx, p.Text)
	case relay.KindCommand:
		return r.shell(ctx, p.Text)
	default:
		return fmt.Sprintf("unsupported payload kind %q", p.Kind), false
	}
}

func (r *runner) converse(ctx context.Context, text string) (string, bool) {
	if r.assistant == nil {
		return "This device has no assistant configured.", false
	}
	answer, err := r.assistant.Respond(ctx, text)
	if err != nil {
		return err.Error(), false
	}
	return answer, true
}

func (r *runner) shell(ctx context.Context, text string) (string, bool) {
	runCtx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", text)
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		if output == "" {
			output = err.Error()
		} else {
			output = fmt.Sprintf("%s\n%s", output, err.Error())
		}
		return output, false
	}
	return output, true
}
