package lrclib

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kalmaegi/NowLyrics/internal/lyrics"
	"github.com/Kalmaegi/NowLyrics/internal/provider"
)

const searchBody = `[
  {"id":1,"trackName":"Hello","artistName":"Somebody","duration":200.0,
   "syncedLyrics":"[00:01.00]Hello\n[00:02.00]World","plainLyrics":"Hello\nWorld"},
  {"id":2,"trackName":"Hello","artistName":"Somebody","duration":200.0,
   "instrumental":true,"syncedLyrics":""},
  {"id":3,"trackName":"Hello (Live)","artistName":"Somebody","duration":215.0,
   "syncedLyrics":"","plainLyrics":"Hello"}
]`

func testClient(serverURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: time.Second},
		baseURL:    serverURL,
		maxRetries: 2,
	}
}

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Hello", r.URL.Query().Get("track_name"))
		assert.Equal(t, "Somebody", r.URL.Query().Get("artist_name"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(searchBody))
	}))
	defer server.Close()

	results, err := testClient(server.URL).Search(context.Background(),
		provider.Query{Title: "Hello", Artist: "Somebody", Duration: 200})
	require.NoError(t, err)

	// Instrumental and plain-only entries are skipped.
	require.Len(t, results, 1)
	assert.Equal(t, lyrics.FormatLine, results[0].Format)
	assert.Equal(t, lyrics.SourceLRCLib, results[0].Source)
	assert.Equal(t, "1", results[0].SourceID)
	assert.Equal(t, 200.0, results[0].Duration)
}

func TestSearch_RetriesOnServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	results, err := testClient(server.URL).Search(context.Background(), provider.Query{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Empty(t, results)
}

func TestSearch_FailsAfterRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := testClient(server.URL).Search(context.Background(), provider.Query{Title: "x"})
	assert.Error(t, err)
}
