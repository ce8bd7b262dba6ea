// Package dispatch fans one parsed command out to one, several, or all
// online devices and aggregates per-device outcomes.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twinlink/broker/internal/command"
	"github.com/twinlink/broker/internal/devices"
	"github.com/twinlink/broker/internal/relay"
	"github.com/twinlink/broker/internal/safety"
)

const defaultCommandTimeout = 30 * time.Second

// DeviceResult is the independent outcome of one fan-out leg.
type DeviceResult struct {
	DeviceID   string
	DeviceName string
	Success    bool
	Response   string
	Error      string
}

// FanoutResult aggregates all legs. Success is true only when every leg
// succeeded.
type FanoutResult struct {
	Success      bool
	Results      []DeviceResult
	SuccessCount int
	FailCount    int
}

// Outcome is the full result of handling an explicit command, including the
// safety verdict. Blocked and needs-confirmation outcomes carry no fan-out.
type Outcome struct {
	Parsed            command.Parsed
	Analysis          safety.Analysis
	NeedsConfirmation bool
	Fanout            *FanoutResult
}

type Dispatcher struct {
	registry *devices.Registry
	channel  *relay.Channel
	timeout  time.Duration
}

type Option func(*Dispatcher)

func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.timeout = d }
}

func New(registry *devices.Registry, channel *relay.Channel, opts ...Option) *Dispatcher {
	dp := &Dispatcher{registry: registry, channel: channel, timeout: defaultCommandTimeout}
	for _, opt := range opts {
		opt(dp)
	}
	return dp
}

// Execute parses an addressed command, runs the safety guard fresh, and
// fans out unless the guard blocks or confirmation is outstanding.
func (dp *Dispatcher) Execute(ctx context.Context, userID, input string, confirmed bool) (Outcome, error) {
	parsed, ok := command.Parse(input)
	if !ok {
		return Outcome{}, fmt.Errorf("not an addressed command: %q", input)
	}

	// Re-judged on every attempt, confirmed or not; a confirmation never
	// bypasses a block.
	analysis := safety.Analyze(safety.KindShell, parsed.Command)
	out := Outcome{Parsed: parsed, Analysis: analysis}

	if analysis.Blocked {
		slog.Warn("Command blocked by safety guard",
			"user_id", userID,
			"reasons", strings.Join(analysis.Warnings, "; "))
		return out, nil
	}
	if analysis.RequiresConfirmation && !confirmed {
		out.NeedsConfirmation = true
		return out, nil
	}

	fanout, err := dp.DispatchMany(ctx, userID, parsed.Targets, parsed.All, parsed.Command, priorityFor(analysis.Risk))
	if err != nil {
		return out, err
	}
	out.Fanout = &fanout
	return out, nil
}

// DispatchMany resolves targets and dispatches to each device in parallel.
// One leg failing never cancels or blocks the others.
func (dp *Dispatcher) DispatchMany(ctx context.Context, userID string, targets []string, all bool, cmdText string, priority int) (FanoutResult, error) {
	resolved, err := dp.resolve(ctx, userID, targets, all)
	if err != nil {
		return FanoutResult{}, err
	}

	results := make([]DeviceResult, len(resolved))
	var wg sync.WaitGroup
	for i, t := range resolved {
		if t.err != "" {
			results[i] = DeviceResult{DeviceName: t.name, Error: t.err}
			continue
		}
		wg.Add(1)
		go func(i int, d devices.Device) {
			defer wg.Done()
			results[i] = dp.dispatchOne(ctx, userID, d, cmdText, priority)
		}(i, t.device)
	}
	wg.Wait()

	out := FanoutResult{Results: results, Success: true}
	for _, r := range results {
		if r.Success {
			out.SuccessCount++
		} else {
			out.FailCount++
			out.Success = false
		}
	}

	slog.Info("Fan-out finished",
		"user_id", userID,
		"targets", len(results),
		"succeeded", out.SuccessCount,
		"failed", out.FailCount)
	return out, nil
}

type resolvedTarget struct {
	name   string
	device devices.Device
	err    string
}

func (dp *Dispatcher) resolve(ctx context.Context, userID string, targets []string, all bool) ([]resolvedTarget, error) {
	if all {
		online, err := dp.registry.OnlineDevices(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list online devices: %w", err)
		}
		if len(online) == 0 {
			return []resolvedTarget{{name: "*", err: "no devices are online"}}, nil
		}
		resolved := make([]resolvedTarget, len(online))
		for i, d := range online {
			resolved[i] = resolvedTarget{name: d.Name, device: d}
		}
		return resolved, nil
	}

	devs, err := dp.registry.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	byName := make(map[string]devices.Device, len(devs))
	for _, d := range devs {
		byName[strings.ToLower(d.Name)] = d
	}

	now := time.Now()
	resolved := make([]resolvedTarget, len(targets))
	for i, name := range targets {
		d, ok := byName[strings.ToLower(name)]
		switch {
		case !ok:
			resolved[i] = resolvedTarget{name: name, err: "unknown device"}
		case !d.Reachable(now):
			resolved[i] = resolvedTarget{name: name, err: "device is offline"}
		default:
			resolved[i] = resolvedTarget{name: name, device: d}
		}
	}
	return resolved, nil
}

func (dp *Dispatcher) dispatchOne(ctx context.Context, userID string, d devices.Device, cmdText string, priority int) DeviceResult {
	res, err := dp.channel.Dispatch(ctx, userID, d, relay.Payload{
		Kind: relay.KindCommand,
		Text: cmdText,
	}, priority, dp.timeout)
	if err != nil {
		return DeviceResult{DeviceID: d.ID, DeviceName: d.Name, Error: err.Error()}
	}
	out := DeviceResult{
		DeviceID:   d.ID,
		DeviceName: d.Name,
		Success:    res.Success,
		Response:   res.Response,
	}
	if !res.Success && out.Error == "" {
		out.Error = "device reported failure"
	}
	return out
}

func priorityFor(risk safety.RiskLevel) int {
	if risk == safety.RiskHigh {
		return 1
	}
	return 0
}
