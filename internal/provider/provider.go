// Package provider defines the lyric provider interface and the fan-out
// search manager that turns raw provider results into ranked candidates.
package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kalmaegi/NowLyrics/internal/lyrics"
)

// ErrNoResults is returned when every provider came back empty. Provider
// errors alone do not produce it; see Manager.Search.
var ErrNoResults = errors.New("no lyrics found")

// Query describes the track to search lyrics for.
type Query struct {
	TrackID  string
	Title    string
	Artist   string
	Duration float64 // seconds, 0 when unknown
}

// Result is one raw hit from a provider: timed text plus enough attributes
// to score it against the query. Which Format a provider yields is
// provider-specific.
type Result struct {
	Raw         string
	Format      lyrics.Format
	Source      lyrics.Source
	SourceID    string
	Title       string
	Artist      string
	Duration    float64 // seconds, 0 when unknown
	Translation string  // optional line-timed translation text
}

// Provider is a lyric search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Result, error)
}

var logger = log.With().Str("component", "provider-manager").Logger()

// Manager fans a query out to all providers concurrently and merges the
// results into ranked candidates.
type Manager struct {
	providers []Provider
	timeout   time.Duration
}

// NewManager creates a manager over the given providers.
func NewManager(providers []Provider) *Manager {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	logger.Info().Strs("providers", names).Msg("provider manager initialized")
	return &Manager{providers: providers, timeout: 15 * time.Second}
}

// Search queries every provider in parallel. A failing provider contributes
// zero results and the aggregate continues; the error return is non-nil only
// when nothing usable came back: ErrNoResults when providers responded but
// none had parsable lyrics, or the last provider error when all of them
// failed outright.
func (m *Manager) Search(ctx context.Context, q Query) ([]lyrics.Candidate, error) {
	if len(m.providers) == 0 {
		return nil, errors.New("no providers configured")
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result
		errs    int
	)
	for _, p := range m.providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			res, err := p.Search(ctx, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs++
				logger.Warn().Str("provider", p.Name()).Err(err).Msg("provider search failed")
				return
			}
			logger.Info().Str("provider", p.Name()).Int("results", len(res)).Msg("provider responded")
			results = append(results, res...)
		}(p)
	}
	wg.Wait()

	if len(results) == 0 {
		if errs == len(m.providers) {
			return nil, errors.New("all providers failed")
		}
		return nil, ErrNoResults
	}

	candidates := m.score(q, results)
	if len(candidates) == 0 {
		return nil, ErrNoResults
	}
	return lyrics.Rank(candidates), nil
}

// score parses each raw result with the parser its format tag selects and
// attaches a relevance score. Unparsable results are dropped.
func (m *Manager) score(q Query, results []Result) []lyrics.Candidate {
	now := time.Now()
	var candidates []lyrics.Candidate
	for _, r := range results {
		meta := lyrics.Metadata{
			Source:    r.Source,
			SourceID:  r.SourceID,
			FetchedAt: now,
		}

		var tl *lyrics.Timeline
		switch r.Format {
		case lyrics.FormatWord:
			tl = lyrics.ParseQRC(r.Raw, q.TrackID, meta)
		default:
			tl = lyrics.ParseLRC(r.Raw, q.TrackID, meta)
		}
		if tl == nil {
			continue
		}

		if tl.Title == "" {
			tl.Title = r.Title
		}
		if tl.Artist == "" {
			tl.Artist = r.Artist
		}
		if r.Translation != "" {
			trans := lyrics.ParseLRC(r.Translation, q.TrackID, lyrics.Metadata{})
			lyrics.MergeTranslation(tl, trans)
		}

		score := lyrics.Relevance(q.Title, q.Artist, r.Title, r.Artist, q.Duration, r.Duration)
		candidates = append(candidates, lyrics.Candidate{Timeline: tl, Score: score})
	}
	return candidates
}
