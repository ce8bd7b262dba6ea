// Package router orchestrates the three conversation tiers: a pre-fetched
// cache answer, a live device over the relay channel, and the degraded
// fallback backed by the offline queue. It is the single entry point used by
// channel adapters.
package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/twinlink/broker/internal/devices"
	"github.com/twinlink/broker/internal/queue"
	"github.com/twinlink/broker/internal/relay"
)

type Tier string

const (
	TierCache    Tier = "cache"
	TierDevice   Tier = "device"
	TierFallback Tier = "fallback"
)

const defaultDeviceTimeout = 10 * time.Second

// FallbackFunc produces a memory-less answer when no device is reachable.
// Externally supplied and treated as opaque.
type FallbackFunc func(ctx context.Context, message string) (string, error)

// Request is the normalized tuple handed over by a channel adapter.
type Request struct {
	UserID         string
	Message        string
	SourceChannel  string
	SourceUserID   string
	SessionID      string
	Category       string
	CachedResponse string // pre-fetched semantic-cache hit; empty means miss
}

// Response is the typed result of routing. Every branch returns one; the
// router never raises.
type Response struct {
	Tier             Tier
	Response         string
	HasMemoryContext bool
	DeviceName       string
	Queued           bool
	QueueDepth       int
	ProcessingMs     int64
}

type Router struct {
	registry      *devices.Registry
	channel       *relay.Channel
	queue         *queue.Queue
	fallback      FallbackFunc // optional
	deviceTimeout time.Duration
}

type Option func(*Router)

func WithFallback(f FallbackFunc) Option {
	return func(r *Router) { r.fallback = f }
}

func WithDeviceTimeout(d time.Duration) Option {
	return func(r *Router) { r.deviceTimeout = d }
}

func New(registry *devices.Registry, channel *relay.Channel, q *queue.Queue, opts ...Option) *Router {
	r := &Router{
		registry:      registry,
		channel:       channel,
		queue:         q,
		deviceTimeout: defaultDeviceTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route tries the tiers strictly in order; the first success wins.
func (r *Router) Route(ctx context.Context, req Request) Response {
	start := time.Now()

	// Tier 1: cache. The lookup itself happened upstream; an answer here is
	// returned as-is, without memory context.
	if req.CachedResponse != "" {
		return Response{
			Tier:         TierCache,
			Response:     req.CachedResponse,
			ProcessingMs: time.Since(start).Milliseconds(),
		}
	}

	// Tier 2: best live device over the relay channel.
	if resp, ok := r.tryDevice(ctx, req); ok {
		resp.ProcessingMs = time.Since(start).Milliseconds()
		return resp
	}

	// Tier 3: queue for later, answer degraded if we can.
	resp := r.degrade(ctx, req)
	resp.ProcessingMs = time.Since(start).Milliseconds()
	return resp
}

func (r *Router) tryDevice(ctx context.Context, req Request) (Response, bool) {
	devs, err := r.registry.List(ctx, req.UserID)
	if err != nil {
		// Store trouble routes the same as "no device available".
		slog.Warn("Device listing failed, degrading", "user_id", req.UserID, "error", err)
		return Response{}, false
	}

	best := devices.SelectBest(devs)
	if best == nil {
		return Response{}, false
	}

	res, err := r.channel.Dispatch(ctx, req.UserID, *best, relay.Payload{
		Kind:      relay.KindConversation,
		Text:      req.Message,
		SessionID: req.SessionID,
	}, queue.DetectPriority(req.Message), r.deviceTimeout)
	if err != nil {
		if !errors.Is(err, relay.ErrTimeout) {
			slog.Warn("Device relay failed, degrading",
				"user_id", req.UserID,
				"device", best.Name,
				"error", err)
		}
		return Response{}, false
	}
	if !res.Success {
		return Response{}, false
	}

	return Response{
		Tier:             TierDevice,
		Response:         res.Response,
		HasMemoryContext: true,
		DeviceName:       best.Name,
	}, true
}

func (r *Router) degrade(ctx context.Context, req Request) Response {
	resp := Response{Tier: TierFallback}

	enq, err := r.queue.Enqueue(ctx, req.UserID, req.Message, queue.Source{
		Channel:        req.SourceChannel,
		ExternalUserID: req.SourceUserID,
		SessionID:      req.SessionID,
		Category:       req.Category,
	})
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		resp.Response = "Your devices are offline and your message queue is full. Please try again after a device reconnects."
		return resp
	case err != nil:
		slog.Error("Failed to queue message", "user_id", req.UserID, "error", err)
		resp.Response = "Your devices are offline and your message could not be queued. Please try again shortly."
		return resp
	}
	resp.Queued = true
	resp.QueueDepth = enq.QueueDepth

	if r.fallback != nil {
		answer, err := r.fallback(ctx, req.Message)
		if err == nil && answer != "" {
			resp.Response = answer +
				"\n\n(Your devices are offline, so this answer was generated without your shared memory. " +
				"Your message is queued; a fuller answer will follow once a device reconnects.)"
			return resp
		}
		slog.Warn("Fallback responder failed", "user_id", req.UserID, "error", err)
	}

	resp.Response = "All of your devices are offline right now. Your message has been queued and will be processed as soon as one reconnects."
	return resp
}
