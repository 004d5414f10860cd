// Package titlefix extracts a searchable song title and artist from messy
// player titles ("Artist「Title」Official MV (Lyrics)") using an LLM
// backend. It is only consulted when the player reports no artist of its
// own.
package titlefix

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	maxAttempts = 3
	retryDelay  = time.Second
)

var logger = log.With().Str("component", "titlefix").Logger()

// Completer produces one text completion for a prompt.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

type songInfo struct {
	IsSong bool   `json:"is_song"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

func extractionPrompt(raw string) string {
	return fmt.Sprintf(`Extract song information from a media title and answer with exactly this JSON shape: {"is_song": true, "title": "...", "artist": "..."}. If the input does not name a song, answer {"is_song": false}. Answer with raw JSON only, no markdown fences, no commentary. The media title is: %s`, raw)
}

// Fixer asks a Completer to split a raw title. Implements the engine's
// Normalizer.
type Fixer struct {
	completer Completer
}

// New creates a Fixer over the given backend.
func New(c Completer) *Fixer {
	logger.Info().Str("backend", c.Name()).Msg("title normalizer initialized")
	return &Fixer{completer: c}
}

// Normalize returns the extracted title and artist. When the backend says
// the input is not a song, the raw title comes back unchanged with an
// empty artist; the caller searches with what it has.
func (f *Fixer) Normalize(ctx context.Context, raw string) (string, string, error) {
	var (
		answer string
		err    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		answer, err = f.completer.Complete(ctx, extractionPrompt(raw))
		if err == nil {
			break
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("completion failed")
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
	if err != nil {
		return "", "", fmt.Errorf("query %s after %d attempts: %w", f.completer.Name(), maxAttempts, err)
	}

	var info songInfo
	if err := json.Unmarshal([]byte(stripFences(answer)), &info); err != nil {
		return "", "", fmt.Errorf("parse %s response: %w", f.completer.Name(), err)
	}
	if !info.IsSong {
		logger.Debug().Str("raw", raw).Msg("backend says not a song")
		return raw, "", nil
	}
	logger.Debug().Str("title", info.Title).Str("artist", info.Artist).Msg("title normalized")
	return info.Title, info.Artist, nil
}

// stripFences tolerates models that wrap the JSON in markdown code fences
// despite being told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
