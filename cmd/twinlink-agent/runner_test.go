package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/twinlink/broker/internal/relay"
)

func TestRunnerShellSuccess(t *testing.T) {
	r := newRunner(nil, time.Second*5)

	out, ok := r.Run(context.Background(), relay.Payload{Kind: relay.KindCommand, Text: "echo hello"})
	assert.True(t, ok)
	assert.Equal(t, "hello", out)
}

func TestRunnerShellFailure(t *testing.T) {
	r := newRunner(nil, time.Second*5)

	_, ok := r.Run(context.Background(), relay.Payload{Kind: relay.KindCommand, Text: "exit 3"})
	assert.False(t, ok)
}

func TestRunnerConversationWithoutAssistant(t *testing.T) {
	r := newRunner(nil, 0)

	_, ok := r.Run(context.Background(), relay.Payload{Kind: relay.KindConversation, Text: "hi"})
	assert.False(t, ok)
}

func TestRunnerUnsupportedKind(t *testing.T) {
	r := newRunner(nil, 0)

	_, ok := r.Run(context.Background(), relay.Payload{Kind: "telemetry", Text: ""})
	assert.False(t, ok)
}
