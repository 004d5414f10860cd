// Package lrclib is a client for the lrclib.net lyrics API.
package lrclib

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kalmaegi/NowLyrics/internal/lyrics"
	"github.com/Kalmaegi/NowLyrics/internal/provider"
)

const (
	defaultBaseURL = "https://lrclib.net/api"
	userAgent      = "NowLyrics/1.0 (https://github.com/Kalmaegi/NowLyrics)"
)

// Client queries lrclib.net. It yields line-timed lyrics.
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxRetries int
}

// searchItem is one entry of the /api/search response.
type searchItem struct {
	ID           int     `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// New creates a lrclib client.
func New() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    defaultBaseURL,
		maxRetries: 2,
	}
}

// Name implements provider.Provider.
func (c *Client) Name() string { return "lrclib" }

// Search implements provider.Provider. Instrumental tracks and entries
// without synced lyrics are skipped; plain-only entries carry no timestamps
// and cannot feed the synchronizer.
func (c *Client) Search(ctx context.Context, q provider.Query) ([]provider.Result, error) {
	params := url.Values{}
	params.Set("track_name", q.Title)
	params.Set("artist_name", q.Artist)
	searchURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())

	resp, err := c.doWithRetry(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var items []searchItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	log.Info().Str("provider", "lrclib").Int("hits", len(items)).
		Str("title", q.Title).Str("artist", q.Artist).Msg("search done")

	var results []provider.Result
	for _, item := range items {
		if item.Instrumental || item.SyncedLyrics == "" {
			continue
		}
		results = append(results, provider.Result{
			Raw:      item.SyncedLyrics,
			Format:   lyrics.FormatLine,
			Source:   lyrics.SourceLRCLib,
			SourceID: fmt.Sprintf("%d", item.ID),
			Title:    item.TrackName,
			Artist:   item.ArtistName,
			Duration: item.Duration,
		})
	}
	return results, nil
}

// doWithRetry issues the GET with a short backoff between attempts.
func (c *Client) doWithRetry(ctx context.Context, reqURL string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt*500) * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		resp.Body.Close()
		lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}
