package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/twinlink/broker/internal/api/http/dto"
	"github.com/twinlink/broker/internal/secure"
)

const deviceTokenHeader = "X-Device-Token"

// gatewayClient talks to the broker's device gateway on behalf of this
// agent.
type gatewayClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newGatewayClient(baseURL, token string) *gatewayClient {
	return &gatewayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *gatewayClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(deviceTokenHeader, g.token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (g *gatewayClient) Heartbeat(ctx context.Context) error {
	return g.do(ctx, http.MethodPost, "/gateway/v1/heartbeat", nil, nil)
}

func (g *gatewayClient) PendingCommands(ctx context.Context) ([]dto.PendingCommand, error) {
	var resp dto.ListCommandsResponse
	if err := g.do(ctx, http.MethodGet, "/gateway/v1/commands", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Commands, nil
}

func (g *gatewayClient) SubmitResult(ctx context.Context, commandID, status string, result secure.Envelope) error {
	return g.do(ctx, http.MethodPost, "/gateway/v1/commands/"+commandID+"/result",
		dto.SubmitResultRequest{Status: status, Result: result}, nil)
}

func (g *gatewayClient) DrainQueue(ctx context.Context) ([]dto.QueuedMessageInfo, error) {
	var resp dto.DrainQueueResponse
	if err := g.do(ctx, http.MethodGet, "/gateway/v1/queue", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (g *gatewayClient) AckDelivered(ctx context.Context, messageID string) error {
	return g.do(ctx, http.MethodPost, "/gateway/v1/queue/"+messageID+"/delivered", nil, nil)
}

// Listen holds a websocket open and signals wake on every frame. Returns
// when the connection drops; the caller decides whether to redial.
func (g *gatewayClient) Listen(ctx context.Context, wake chan<- struct{}) error {
	wsURL, err := url.Parse(g.baseURL + "/gateway/v1/ws")
	if err != nil {
		return err
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}

	header := http.Header{}
	header.Set(deviceTokenHeader, g.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}
