// Package trading wraps the remote trading-service REST API the core relies
// on for snapshots and mutation calls. The core never retries internally; a
// failed call is surfaced as a TransportError and retrying is the caller's
// explicit decision.
package trading

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradesync/internal/config"
	"tradesync/internal/core"
	"tradesync/internal/pkg/circuit"
	"tradesync/internal/reconcile"
)

// ErrCircuitOpen fails calls fast while the breaker cools down.
var ErrCircuitOpen = errors.New("trading service circuit open")

// Client talks to the trading service.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
	breaker    *circuit.Breaker
}

// NewClient constructs a client from configuration.
func NewClient(cfg config.RemoteConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("remote.api_url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing remote.api_url failed: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		} else {
			transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402
		}
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		token:      strings.TrimSpace(cfg.APIToken),
		breaker:    circuit.New("trading", cfg.BreakerThreshold, time.Duration(cfg.BreakerCooldownSec)*time.Second),
	}, nil
}

// SetHTTPClient swaps the underlying HTTP client for tests.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// apiEnvelope is the uniform response wrapper of the trading service.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	op := method + " " + path
	if !c.breaker.Allow() {
		return core.NewTransportError(op, ErrCircuitOpen)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return core.NewTransportError(op, fmt.Errorf("encoding request: %w", err))
		}
		reader = bytes.NewReader(encoded)
	}

	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return core.NewTransportError(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.Failure()
		return core.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		c.breaker.Failure()
		return core.NewTransportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.breaker.Failure()
		return core.NewTransportError(op, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var env apiEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.breaker.Failure()
		return core.NewTransportError(op, fmt.Errorf("decoding response: %w", err))
	}
	if !env.Success {
		// Remote rejection is a terminal answer, not a transport fault.
		c.breaker.Success()
		return core.NewTransportError(op, fmt.Errorf("remote rejected: %s", env.Error))
	}
	c.breaker.Success()

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return core.NewTransportError(op, fmt.Errorf("decoding data: %w", err))
		}
	}
	return nil
}

// FetchSnapshot pulls the full point-in-time state: open and historical
// positions plus strategy subscriptions. All-or-nothing; a failure leaves
// nothing merged.
func (c *Client) FetchSnapshot(ctx context.Context) (*reconcile.Snapshot, error) {
	var data snapshotDTO
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/snapshot", nil, &data); err != nil {
		return nil, err
	}
	snap := &reconcile.Snapshot{FetchedAt: time.Now()}
	for _, dto := range data.Positions {
		if strings.TrimSpace(dto.ID) == "" {
			continue
		}
		snap.Entities = append(snap.Entities, reconcile.SnapshotEntity{
			Kind:     core.KindPosition,
			EntityID: dto.ID,
			Patch:    dto.patch(),
		})
	}
	for _, dto := range data.Strategies {
		if strings.TrimSpace(dto.ID) == "" {
			continue
		}
		snap.Entities = append(snap.Entities, reconcile.SnapshotEntity{
			Kind:     core.KindStrategy,
			EntityID: dto.ID,
			Patch:    dto.patch(),
		})
	}
	return snap, nil
}

// ModifyPosition submits new stop-loss/take-profit triggers. Nil pointers
// leave the respective trigger untouched.
func (c *Client) ModifyPosition(ctx context.Context, id string, stopLoss, takeProfit *float64) (core.Patch, error) {
	body := modifyPositionPayload{StopLoss: stopLoss, TakeProfit: takeProfit}
	var dto positionDTO
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/positions/"+url.PathEscape(id)+"/modify", body, &dto); err != nil {
		return nil, err
	}
	return dto.patch(), nil
}

// ClosePosition asks the service to close a position at market.
func (c *Client) ClosePosition(ctx context.Context, id string) (core.Patch, error) {
	var dto positionDTO
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/positions/"+url.PathEscape(id)+"/close", nil, &dto); err != nil {
		return nil, err
	}
	return dto.patch(), nil
}

// UpdateStrategy changes the active/paused flags of a subscription. Nil
// pointers mean "no change".
func (c *Client) UpdateStrategy(ctx context.Context, id string, isActive, isPaused *bool) (core.Patch, error) {
	body := updateStrategyPayload{IsActive: isActive, IsPaused: isPaused}
	var dto strategyDTO
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/strategies/"+url.PathEscape(id), body, &dto); err != nil {
		return nil, err
	}
	return dto.patch(), nil
}

// SetTradeMode switches a subscription between paper and live.
func (c *Client) SetTradeMode(ctx context.Context, id string, mode core.TradeMode) (core.Patch, error) {
	body := tradeModePayload{Mode: string(mode)}
	var dto strategyDTO
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/strategies/"+url.PathEscape(id)+"/trade-mode", body, &dto); err != nil {
		return nil, err
	}
	return dto.patch(), nil
}
