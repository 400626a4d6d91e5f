package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ClearskyLabs/calsync/models"
)

// Client talks to a calsyncd instance over both surfaces: the request/response
// calendar API and the websocket push channel.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

type Config struct {
	// ServerURL is the base address, e.g. "http://127.0.0.1:8080".
	ServerURL string
	Logger    *slog.Logger
	Timeout   time.Duration
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", cfg.ServerURL, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger.WithGroup("calsync-client"),
	}, nil
}

func (c *Client) doRequest(method, path string, body any, out any) error {
	endpoint := *c.baseURL
	endpoint.Path = path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, endpoint.String(), reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp models.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Error != "" {
			return fmt.Errorf("server returned %s: %s", resp.Status, errResp.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("could not decode response: %w", err)
		}
	}
	return nil
}

// GetCalendar fetches the current document.
func (c *Client) GetCalendar() (*models.Document, error) {
	var resp models.CalendarResponse
	if err := c.doRequest(http.MethodGet, "/api/v1/calendar", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// UpdateCalendar replaces the document and returns the commit info.
func (c *Client) UpdateCalendar(doc *models.Document) (models.CommitInfo, error) {
	var resp models.UpdateResponse
	if err := c.doRequest(http.MethodPost, "/api/v1/calendar", doc, &resp); err != nil {
		return models.CommitInfo{}, err
	}
	return models.CommitInfo{LastModified: resp.LastModified, Version: resp.Version}, nil
}

// Ping checks the server is up.
func (c *Client) Ping() error {
	return c.doRequest(http.MethodGet, "/api/v1/ping", nil, nil)
}

// Health returns the server's liveness payload.
func (c *Client) Health() (*models.HealthResponse, error) {
	var resp models.HealthResponse
	if err := c.doRequest(http.MethodGet, "/api/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats returns the document summary.
func (c *Client) Stats() (*models.StatsResponse, error) {
	var resp models.StatsResponse
	if err := c.doRequest(http.MethodGet, "/api/v1/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Subscribe connects to the push channel and invokes onEnvelope for every
// message the server sends, starting with INIT_DATA. It blocks until the
// context is cancelled or the connection drops.
func (c *Client) Subscribe(ctx context.Context, onEnvelope func(env models.Envelope)) error {
	wsScheme := "ws"
	if c.baseURL.Scheme == "https" {
		wsScheme = "wss"
	}
	wsURL := url.URL{
		Scheme: wsScheme,
		Host:   c.baseURL.Host,
		Path:   "/api/v1/sync",
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to dial %s (status: %s): %w", wsURL.String(), resp.Status, err)
		}
		return fmt.Errorf("failed to dial %s: %w", wsURL.String(), err)
	}
	defer conn.Close()

	c.logger.Info("Connected to push channel", "url", wsURL.String())

	// Ping loop keeps idle connections from being closed by intermediaries.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Error("Error sending ping", "error", err)
					return
				}
			case <-ctx.Done():
				err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				if err != nil {
					c.logger.Debug("Error sending close message", "error", err)
				}
				conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error("Error reading from push channel", "error", err)
			}
			return err
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Error("Failed to decode envelope", "error", err, "message", string(message))
			continue
		}
		if onEnvelope != nil {
			onEnvelope(env)
		}
	}
}

// BuildUpdateFrame encodes a DATA_UPDATE frame for callers that hold their
// own push-channel connection. Most callers should use UpdateCalendar.
func BuildUpdateFrame(doc *models.Document) ([]byte, error) {
	return json.Marshal(models.Envelope{
		Type:      models.MsgDataUpdate,
		Data:      doc,
		Timestamp: models.Now(),
	})
}
