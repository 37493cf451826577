package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newClient(g *globals) *client {
	timeout := time.Duration(g.timeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &client{
		baseURL:    strings.TrimRight(g.baseURL, "/"),
		apiKey:     g.apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type deliveryResult struct {
	Channel     string `json:"channel"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	Status      string `json:"status"`
	FileID      string `json:"file_id"`
	Error       string `json:"error"`
	Retriable   bool   `json:"retriable"`
	Attempts    int    `json:"attempts"`
	FailureKind string `json:"failure_kind"`
}

type broadcastData struct {
	TotalChannels int              `json:"total_channels"`
	TotalCount    int              `json:"total_count"`
	SuccessCount  int              `json:"success_count"`
	FailedCount   int              `json:"failed_count"`
	Results       []deliveryResult `json:"results"`
}

type channelInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsPrivate  bool   `json:"is_private"`
	NumMembers int    `json:"num_members"`
}

type qrOptions struct {
	BoxSize   int    `json:"box_size,omitempty" yaml:"boxSize"`
	Border    *int   `json:"border,omitempty" yaml:"border"`
	FillColor string `json:"fill_color,omitempty" yaml:"fillColor"`
	BackColor string `json:"back_color,omitempty" yaml:"backColor"`
}

func (o *qrOptions) empty() bool {
	return o == nil || (o.BoxSize == 0 && o.Border == nil && o.FillColor == "" && o.BackColor == "")
}

type qrRequest struct {
	APKURL      string     `json:"apk_url"`
	Channel     string     `json:"channel,omitempty"`
	Channels    []string   `json:"channels,omitempty"`
	BuildNumber string     `json:"build_number,omitempty"`
	QROptions   *qrOptions `json:"qr_options,omitempty"`
}

// do sends body to path and decodes the response envelope. A non-2xx status
// is returned alongside the envelope so callers can still print results.
func (c *client) do(method, path string, body any) (envelope, error) {
	var rdr io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return envelope{}, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+path, rdr)
	if err != nil {
		return envelope{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusTooManyRequests {
			return env, fmt.Errorf("%s (retry after %ss)", env.Message, resp.Header.Get("Retry-After"))
		}
		return env, fmt.Errorf("%s (%d)", env.Message, resp.StatusCode)
	}
	return env, nil
}
