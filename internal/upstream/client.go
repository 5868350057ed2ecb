// Package upstream posts classified payloads to the FastHelp call-management
// API. The client never retries; duplicate suppression belongs to the dedup
// gate, not the transport.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callrelay/internal/config"
)

// Result statuses reported back through the gate and the caller response.
const (
	StatusConfigMissing  = "config_missing"
	StatusEncodeFailed   = "encode_failed"
	StatusSendDisabled   = "send_disabled"
	StatusUpstreamFailed = "upstream_failed"
	StatusSent           = "sent"
)

// ErrConfigMissing signals that the upstream base URL or API key is absent.
var ErrConfigMissing = fmt.Errorf("upstream configuration missing")

// Result describes one relay attempt.
type Result struct {
	OK       bool
	Status   string
	HTTPCode int
	Body     string
	Err      error
}

// Client sends payloads to the configured upstream environment.
type Client struct {
	cfg  config.UpstreamConfig
	http *http.Client
}

// NewClient builds a client with bounded connect and total timeouts.
func NewClient(cfg config.UpstreamConfig) *Client {
	connectTimeout := time.Duration(cfg.ConnectTimeout) * time.Second
	totalTimeout := time.Duration(cfg.TotalTimeout) * time.Second

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: totalTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
	}
}

// Enabled reports whether real sending is switched on.
func (c *Client) Enabled() bool {
	return c.cfg.EnableSend
}

// Configured reports whether the selected environment has a base URL and key.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL() != "" && c.cfg.APIKey() != ""
}

// Send posts the payload to the endpoint path as a jsonData form field. In
// log-only mode the payload is encoded and logged but never sent.
func (c *Client) Send(ctx context.Context, endpointPath string, payload any) Result {
	if !c.Configured() {
		return Result{OK: false, Status: StatusConfigMissing, Err: ErrConfigMissing}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{OK: false, Status: StatusEncodeFailed, Err: fmt.Errorf("encoding payload: %w", err)}
	}

	return c.SendRaw(ctx, endpointPath, string(raw))
}

// SendRaw posts an already-encoded JSON payload string.
func (c *Client) SendRaw(ctx context.Context, endpointPath, jsonPayload string) Result {
	if !c.Configured() {
		return Result{OK: false, Status: StatusConfigMissing, Err: ErrConfigMissing}
	}

	target := strings.TrimRight(c.cfg.BaseURL(), "/") + endpointPath

	if !c.cfg.EnableSend {
		log.Printf("[Upstream] Send disabled (log only): url=%s payload=%s", target, jsonPayload)
		return Result{OK: true, Status: StatusSendDisabled}
	}

	form := url.Values{"jsonData": {jsonPayload}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{OK: false, Status: StatusUpstreamFailed, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-FastHelp-API-Key", c.cfg.APIKey())

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{OK: false, Status: StatusUpstreamFailed, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{OK: false, Status: StatusUpstreamFailed, HTTPCode: resp.StatusCode, Err: err}
	}

	return Result{OK: true, Status: StatusSent, HTTPCode: resp.StatusCode, Body: string(body)}
}
