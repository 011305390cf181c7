// Package catalog talks to the external track-metadata service that hands
// decks their source references.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/audio"
)

// ErrTrackNotFound is returned when the catalog has no track with an id.
var ErrTrackNotFound = errors.New("track not found")

// Client communicates with the catalog REST API.
type Client struct {
	apiURL string
	apiKey string
	http   *http.Client
	log    *zap.Logger
}

// NewClient creates a catalog API client.
func NewClient(apiURL, apiKey string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

// envelope is the response wrapper every catalog endpoint uses.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Code  int             `json:"code"`
	Error string          `json:"error"`
}

// Available reports whether the catalog answers its health check.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// WaitForHealthy blocks until the catalog responds to health checks,
// retrying every interval.
func (c *Client) WaitForHealthy(ctx context.Context, interval time.Duration) error {
	c.log.Info("waiting for catalog", zap.String("url", c.apiURL))
	for {
		if c.Available(ctx) {
			c.log.Info("catalog is healthy")
			return nil
		}
		c.log.Debug("catalog not ready, retrying", zap.Duration("interval", interval))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Tracks lists tracks matching query. An empty query lists everything the
// catalog is willing to return.
func (c *Client) Tracks(ctx context.Context, query string) ([]audio.TrackInfo, error) {
	u := c.apiURL + "/tracks"
	if query != "" {
		u += "?" + url.Values{"q": {query}}.Encode()
	}
	var tracks []audio.TrackInfo
	if err := c.get(ctx, u, &tracks); err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	return tracks, nil
}

// Track fetches one track by id.
func (c *Client) Track(ctx context.Context, id string) (audio.TrackInfo, error) {
	var t audio.TrackInfo
	if err := c.get(ctx, c.apiURL+"/tracks/"+url.PathEscape(id), &t); err != nil {
		return audio.TrackInfo{}, fmt.Errorf("get track %s: %w", id, err)
	}
	if t.URL == "" {
		return audio.TrackInfo{}, fmt.Errorf("get track %s: no audio url", id)
	}
	return t, nil
}

func (c *Client) get(ctx context.Context, u string, data any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrTrackNotFound
	}

	var result envelope
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if result.Code == http.StatusNotFound {
		return ErrTrackNotFound
	}
	if result.Code != http.StatusOK {
		return fmt.Errorf("API error (code %d): %s", result.Code, result.Error)
	}
	if err := json.Unmarshal(result.Data, data); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
