// Package netease is a client for the NetEase Cloud Music search and lyric
// APIs. It yields line-timed lyrics, with translations when the lyric API
// returns a tlyric block.
package netease

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/Kalmaegi/NowLyrics/internal/lyrics"
	"github.com/Kalmaegi/NowLyrics/internal/provider"
)

const (
	defaultSearchURL = "https://music.163.com/api/search/get/web"
	defaultLyricURL  = "https://music.163.com/api/song/lyric"

	// maxSongs bounds how many search hits get a lyric fetch.
	maxSongs = 3
)

type searchResponse struct {
	Result struct {
		Songs []struct {
			ID      int    `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
			Duration int `json:"duration"` // milliseconds
		} `json:"songs"`
	} `json:"result"`
}

type lyricResponse struct {
	Lrc struct {
		Lyric string `json:"lyric"`
	} `json:"lrc"`
	Tlyric struct {
		Lyric string `json:"lyric"`
	} `json:"tlyric"`
}

// Client is a NetEase Cloud Music client.
type Client struct {
	httpClient *http.Client
	searchURL  string
	lyricURL   string
	cookie     string
}

// New creates a NetEase client. cookie may be empty; some lyrics are only
// served with one.
func New(cookie string) *Client {
	return &Client{
		httpClient: &http.Client{},
		searchURL:  defaultSearchURL,
		lyricURL:   defaultLyricURL,
		cookie:     cookie,
	}
}

// Name implements provider.Provider.
func (c *Client) Name() string { return "netease" }

// Search implements provider.Provider: search by title, then fetch lyrics
// for the first few hits. A hit whose lyric fetch fails is skipped, not
// fatal.
func (c *Client) Search(ctx context.Context, q provider.Query) ([]provider.Result, error) {
	params := url.Values{}
	params.Set("s", q.Title)
	params.Set("type", "1")
	params.Set("limit", "30")
	searchURL := fmt.Sprintf("%s?%s", c.searchURL, params.Encode())

	var sr searchResponse
	if err := c.getJSON(ctx, searchURL, &sr); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(sr.Result.Songs) == 0 {
		return nil, nil
	}

	var results []provider.Result
	for i, song := range sr.Result.Songs {
		if i >= maxSongs {
			break
		}
		artist := ""
		if len(song.Artists) > 0 {
			artist = song.Artists[0].Name
		}

		raw, translation, err := c.fetchLyric(ctx, song.ID)
		if err != nil {
			log.Warn().Str("provider", "netease").Int("song_id", song.ID).Err(err).
				Msg("lyric fetch failed, skipping hit")
			continue
		}
		if raw == "" {
			continue
		}
		results = append(results, provider.Result{
			Raw:         raw,
			Format:      lyrics.FormatLine,
			Source:      lyrics.SourceNetEase,
			SourceID:    strconv.Itoa(song.ID),
			Title:       song.Name,
			Artist:      artist,
			Duration:    float64(song.Duration) / 1000,
			Translation: translation,
		})
	}
	return results, nil
}

// fetchLyric returns the raw LRC text and the translated LRC text for a
// song id.
func (c *Client) fetchLyric(ctx context.Context, songID int) (string, string, error) {
	lyricURL := fmt.Sprintf("%s?os=pc&id=%d&lv=-1&kv=-1&tv=-1", c.lyricURL, songID)
	var lr lyricResponse
	if err := c.getJSON(ctx, lyricURL, &lr); err != nil {
		return "", "", err
	}
	return lr.Lrc.Lyric, lr.Tlyric.Lyric, nil
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
