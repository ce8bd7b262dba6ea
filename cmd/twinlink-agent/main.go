package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twinlink/broker/internal/fallback"
	"github.com/twinlink/broker/internal/relay"
	"github.com/twinlink/broker/internal/secure"
)

var AppVersion string

const (
	defaultPollInterval      = 2 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
)

func main() {
	InitConfig()

	slog.Info("Twinlink Agent", "version", AppVersion)

	if config.Broker.URL == "" || config.Broker.DeviceToken == "" {
		slog.Error("broker.url and broker.device_token must be configured")
		os.Exit(1)
	}
	if config.Relay.Secret == "" {
		slog.Error("relay.secret is not configured; cannot open relay payloads")
		os.Exit(1)
	}

	gateway := newGatewayClient(config.Broker.URL, config.Broker.DeviceToken)
	box := secure.NewBox(config.Relay.Secret)

	var assistant *fallback.Client
	if config.Assistant.URL != "" {
		assistant = fallback.NewClient(config.Assistant)
		slog.Info("Assistant responder enabled", "model", config.Assistant.Model)
	}
	run := newRunner(assistant, config.Agent.CommandTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gateway.Heartbeat(ctx); err != nil {
		slog.Error("Initial heartbeat failed", "error", err)
		os.Exit(1)
	}

	drainQueue(ctx, gateway, box, run)

	heartbeatInterval := config.Agent.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	go heartbeatLoop(ctx, gateway, heartbeatInterval)

	wake := make(chan struct{}, 1)
	go listenLoop(ctx, gateway, wake)

	pollInterval := config.Agent.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	slog.Info("Agent running", "poll_interval", pollInterval)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutting down")
			return
		case <-wake:
		case <-ticker.C:
		}
		processPending(ctx, gateway, box, run)
	}
}

// heartbeatLoop is best-effort: a failed beat is retried on the next tick,
// never escalated.
func heartbeatLoop(ctx context.Context, gateway *gatewayClient, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := gateway.Heartbeat(ctx); err != nil {
				slog.Warn("Heartbeat failed", "error", err)
			}
		}
	}
}

// listenLoop keeps a nudge websocket open, redialing with a flat backoff.
// The poll ticker alone keeps the agent correct when the socket is down.
func listenLoop(ctx context.Context, gateway *gatewayClient, wake chan<- struct{}) {
	for {
		if err := gateway.Listen(ctx, wake); err != nil {
			slog.Debug("Nudge socket closed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func processPending(ctx context.Context, gateway *gatewayClient, box *secure.Box, run *runner) {
	pending, err := gateway.PendingCommands(ctx)
	if err != nil {
		slog.Warn("Failed to fetch pending commands", "error", err)
		return
	}

	for _, cmd := range pending {
		raw, err := box.Open(cmd.Payload)
		if err != nil {
			slog.Error("Cannot open payload, reporting failure", "command_id", cmd.ID, "error", err)
			submitResult(ctx, gateway, box, cmd.ID, "payload could not be decrypted on this device", false)
			continue
		}
		var p relay.Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			slog.Error("Malformed payload", "command_id", cmd.ID, "error", err)
			submitResult(ctx, gateway, box, cmd.ID, "malformed payload", false)
			continue
		}

		slog.Info("Executing command", "command_id", cmd.ID, "kind", p.Kind)
		response, ok := run.Run(ctx, p)
		submitResult(ctx, gateway, box, cmd.ID, response, ok)
	}
}

// submitResult is best-effort: a lost or conflicted write means the broker
// already gave up on this command.
func submitResult(ctx context.Context, gateway *gatewayClient, box *secure.Box, commandID, response string, ok bool) {
	env, err := box.Seal([]byte(response))
	if err != nil {
		slog.Error("Failed to seal result", "command_id", commandID, "error", err)
		return
	}
	status := string(relay.StatusCompleted)
	if !ok {
		status = string(relay.StatusFailed)
	}
	if err := gateway.SubmitResult(ctx, commandID, status, env); err != nil {
		slog.Warn("Result not accepted", "command_id", commandID, "error", err)
	}
}

// drainQueue processes messages that queued up while this device was
// offline. Runs once at startup, before the poll loop takes over.
func drainQueue(ctx context.Context, gateway *gatewayClient, box *secure.Box, run *runner) {
	for {
		msgs, err := gateway.DrainQueue(ctx)
		if err != nil {
			slog.Warn("Failed to drain offline queue", "error", err)
			return
		}
		if len(msgs) == 0 {
			return
		}
		slog.Info("Draining offline queue", "count", len(msgs))
		for _, m := range msgs {
			response, ok := run.Run(ctx, relay.Payload{
				Kind:      relay.KindConversation,
				Text:      m.Message,
				SessionID: m.SessionID,
			})
			if !ok {
				slog.Warn("Queued message processing failed", "message_id", m.ID, "error", response)
			}
			if err := gateway.AckDelivered(ctx, m.ID); err != nil {
				slog.Warn("Failed to ack queued message", "message_id", m.ID, "error", err)
			}
		}
	}
}
