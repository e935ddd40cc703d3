package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	apiHealth = "/api/health"
	apiSync   = "/api/sync"
)

// HTTP talks to the object server over HTTPS.
type HTTP struct {
	client       *http.Client
	baseURL      string
	connectTries uint
	logger       *zap.Logger
}

// HTTPOption customizes an HTTP transport.
type HTTPOption func(*HTTP)

// WithConnectTries sets how many times Connect probes the server.
func WithConnectTries(n uint) HTTPOption {
	return func(h *HTTP) {
		if n > 0 {
			h.connectTries = n
		}
	}
}

// WithLogger sets the transport logger.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(h *HTTP) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHTTP builds a transport for baseURL. A nil client uses a default with a
// 10 second timeout.
func NewHTTP(client *http.Client, baseURL string, opts ...HTTPOption) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	h := &HTTP{
		client:       client,
		baseURL:      strings.TrimRight(baseURL, "/"),
		connectTries: 3,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect probes the health endpoint, retrying with exponential backoff.
// 4xx answers are not retried.
func (h *HTTP) Connect(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+apiHealth, nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode == http.StatusOK:
			return struct{}{}, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return struct{}{}, backoff.Permanent(fmt.Errorf("server answered %d", resp.StatusCode))
		default:
			return struct{}{}, fmt.Errorf("server answered %d", resp.StatusCode)
		}
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(h.connectTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			h.logger.Warn("sync server not reachable yet",
				zap.String("url", h.baseURL), zap.Duration("retry_in", next), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("connect %s: %w", h.baseURL, err)
	}
	return nil
}

type syncPayload struct {
	SessionID        string `json:"session_id"`
	UserID           string `json:"user_id"`
	Path             string `json:"path"`
	LastKnownVersion int64  `json:"last_known_version"`
}

// Sync posts one round for the session and returns the server version.
func (h *HTTP) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	b, err := json.Marshal(syncPayload{
		SessionID:        req.SessionID,
		UserID:           req.Config.Owner().ID,
		Path:             req.Config.URL(),
		LastKnownVersion: req.LastKnownVersion,
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+apiSync, bytes.NewReader(b))
	if err != nil {
		return SyncResult{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if tok := req.Config.Owner().RefreshToken; tok != "" {
		httpReq.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return SyncResult{}, fmt.Errorf("server error: %s", strings.TrimSpace(string(data)))
	}

	var result struct {
		Version int64 `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return SyncResult{}, fmt.Errorf("invalid response: %w", err)
	}
	return SyncResult{Version: result.Version}, nil
}

// LoadClientCertificate builds an mTLS client from PEM files.
func LoadClientCertificate(certFile, keyFile, caFile string) (*http.Client, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert/key: %w", err)
	}
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA cert")
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      caPool,
			MinVersion:   tls.VersionTLS12,
		},
	}
	return &http.Client{Transport: transport, Timeout: 10 * time.Second}, nil
}
