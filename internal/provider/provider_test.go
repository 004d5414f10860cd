package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kalmaegi/NowLyrics/internal/lyrics"
)

// mockProvider returns canned results or a canned error.
type mockProvider struct {
	name    string
	results []Result
	err     error
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Search(ctx context.Context, q Query) ([]Result, error) {
	return m.results, m.err
}

func lineResult(source lyrics.Source, title, artist string, duration float64) Result {
	return Result{
		Raw:      "[00:01.00]Hello\n[00:02.00]World",
		Format:   lyrics.FormatLine,
		Source:   source,
		Title:    title,
		Artist:   artist,
		Duration: duration,
	}
}

func TestManagerSearch(t *testing.T) {
	q := Query{TrackID: "t1", Title: "Hello Song", Artist: "Somebody", Duration: 200}

	t.Run("RanksByRelevance", func(t *testing.T) {
		good := lineResult(lyrics.SourceLRCLib, "Hello Song", "Somebody", 200)
		poor := lineResult(lyrics.SourceNetEase, "zzzz zzzz", "qqqq", 0)

		m := NewManager([]Provider{
			&mockProvider{name: "poor", results: []Result{poor}},
			&mockProvider{name: "good", results: []Result{good}},
		})
		cands, err := m.Search(context.Background(), q)
		require.NoError(t, err)
		require.Len(t, cands, 2)

		assert.Equal(t, lyrics.SourceLRCLib, cands[0].Timeline.Meta.Source)
		assert.Greater(t, cands[0].Score, cands[1].Score)
		assert.Equal(t, "t1", cands[0].Timeline.TrackID)
		require.Len(t, cands[0].Timeline.Lines, 2)
	})

	t.Run("PartialFailureTolerated", func(t *testing.T) {
		m := NewManager([]Provider{
			&mockProvider{name: "down", err: errors.New("connection refused")},
			&mockProvider{name: "up", results: []Result{lineResult(lyrics.SourceLRCLib, "Hello Song", "Somebody", 200)}},
		})
		cands, err := m.Search(context.Background(), q)
		require.NoError(t, err)
		assert.Len(t, cands, 1)
	})

	t.Run("AllFailedIsError", func(t *testing.T) {
		m := NewManager([]Provider{
			&mockProvider{name: "a", err: errors.New("boom")},
			&mockProvider{name: "b", err: errors.New("boom")},
		})
		_, err := m.Search(context.Background(), q)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrNoResults))
	})

	t.Run("EmptyIsNotFound", func(t *testing.T) {
		m := NewManager([]Provider{
			&mockProvider{name: "a", err: errors.New("boom")},
			&mockProvider{name: "b"},
		})
		_, err := m.Search(context.Background(), q)
		assert.ErrorIs(t, err, ErrNoResults)
	})

	t.Run("UnparsableDropped", func(t *testing.T) {
		junk := Result{Raw: "no timestamps at all", Format: lyrics.FormatLine, Source: lyrics.SourceLRCLib}
		m := NewManager([]Provider{&mockProvider{name: "junk", results: []Result{junk}}})
		_, err := m.Search(context.Background(), q)
		assert.ErrorIs(t, err, ErrNoResults)
	})

	t.Run("WordFormatDispatch", func(t *testing.T) {
		word := Result{
			Raw:    "[1000,2000](1000,200,0)H(1200,200,0)i",
			Format: lyrics.FormatWord,
			Source: lyrics.SourceQQMusic,
			Title:  "Hello Song",
			Artist: "Somebody",
		}
		m := NewManager([]Provider{&mockProvider{name: "qq", results: []Result{word}}})
		cands, err := m.Search(context.Background(), q)
		require.NoError(t, err)
		require.Len(t, cands, 1)
		assert.True(t, cands[0].Timeline.Meta.HasWordMarks)
		assert.Equal(t, "Hi", cands[0].Timeline.Lines[0].Text)
	})

	t.Run("TranslationMerged", func(t *testing.T) {
		r := lineResult(lyrics.SourceNetEase, "Hello Song", "Somebody", 200)
		r.Translation = "[00:01.00]Bonjour"
		m := NewManager([]Provider{&mockProvider{name: "ne", results: []Result{r}}})
		cands, err := m.Search(context.Background(), q)
		require.NoError(t, err)
		require.Len(t, cands, 1)
		assert.Equal(t, "Bonjour", cands[0].Timeline.Lines[0].Translation)
		assert.True(t, cands[0].Timeline.Meta.HasTranslation)
	})
}
