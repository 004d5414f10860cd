// Package qqmusic is a client for the QQ Music search and lyric APIs. Its
// lyric endpoint serves word-timed (QRC) text, which is what makes
// per-character highlighting possible.
package qqmusic

import (
	"context"
	"encoding/base64"
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
	defaultSearchURL = "https://c.y.qq.com/soso/fcgi-bin/client_search_cp"
	defaultLyricURL  = "https://c.y.qq.com/lyric/fcgi-bin/fcg_query_lyric_new.fcg"

	maxSongs = 3
)

type searchResponse struct {
	Code int `json:"code"`
	Data struct {
		Song struct {
			List []struct {
				SongID   int    `json:"songid"`
				SongMid  string `json:"songmid"`
				SongName string `json:"songname"`
				Interval int    `json:"interval"` // seconds
				Singer   []struct {
					Name string `json:"name"`
				} `json:"singer"`
			} `json:"list"`
		} `json:"song"`
	} `json:"data"`
}

type lyricResponse struct {
	Code  int    `json:"code"`
	Lyric string `json:"lyric"` // base64
}

// Client is a QQ Music client.
type Client struct {
	httpClient *http.Client
	searchURL  string
	lyricURL   string
	cookie     string
}

// New creates a QQ Music client. cookie may be empty.
func New(cookie string) *Client {
	return &Client{
		httpClient: &http.Client{},
		searchURL:  defaultSearchURL,
		lyricURL:   defaultLyricURL,
		cookie:     cookie,
	}
}

// Name implements provider.Provider.
func (c *Client) Name() string { return "qqmusic" }

// Search implements provider.Provider.
func (c *Client) Search(ctx context.Context, q provider.Query) ([]provider.Result, error) {
	params := url.Values{}
	params.Set("w", q.Title+" "+q.Artist)
	params.Set("format", "json")
	params.Set("n", "10")
	searchURL := fmt.Sprintf("%s?%s", c.searchURL, params.Encode())

	var sr searchResponse
	if err := c.getJSON(ctx, searchURL, &sr); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if sr.Code != 0 {
		return nil, fmt.Errorf("search returned code %d", sr.Code)
	}

	var results []provider.Result
	for i, song := range sr.Data.Song.List {
		if i >= maxSongs {
			break
		}
		artist := ""
		if len(song.Singer) > 0 {
			artist = song.Singer[0].Name
		}

		raw, err := c.fetchLyric(ctx, song.SongMid)
		if err != nil {
			log.Warn().Str("provider", "qqmusic").Str("song_mid", song.SongMid).Err(err).
				Msg("lyric fetch failed, skipping hit")
			continue
		}
		if raw == "" {
			continue
		}
		results = append(results, provider.Result{
			Raw:      raw,
			Format:   lyrics.FormatWord,
			Source:   lyrics.SourceQQMusic,
			SourceID: strconv.Itoa(song.SongID),
			Title:    song.SongName,
			Artist:   artist,
			Duration: float64(song.Interval),
		})
	}
	return results, nil
}

// fetchLyric fetches and decodes the base64 lyric payload for a song mid.
func (c *Client) fetchLyric(ctx context.Context, songMid string) (string, error) {
	params := url.Values{}
	params.Set("songmid", songMid)
	params.Set("format", "json")
	lyricURL := fmt.Sprintf("%s?%s", c.lyricURL, params.Encode())

	var lr lyricResponse
	if err := c.getJSON(ctx, lyricURL, &lr); err != nil {
		return "", err
	}
	if lr.Code != 0 {
		return "", fmt.Errorf("lyric endpoint returned code %d", lr.Code)
	}
	decoded, err := base64.StdEncoding.DecodeString(lr.Lyric)
	if err != nil {
		return "", fmt.Errorf("decode lyric payload: %w", err)
	}
	return string(decoded), nil
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	// The endpoint rejects requests without a music.qq.com referer.
	req.Header.Set("Referer", "https://y.qq.com/")
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
