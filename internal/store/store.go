// Package store persists timelines per track, the user's override choice,
// and no-lyrics marks. Two backends exist: a file tree under the cache
// directory and a redis keyspace.
package store

import (
	"github.com/Kalmaegi/NowLyrics/internal/lyrics"
)

// Store is the cache collaborator consumed by the orchestrator. All
// operations are best-effort at call sites: a failed write must never block
// showing an already-computed timeline.
type Store interface {
	// Get returns the effective timeline for a track: the user override
	// when it resolves to a still-cached timeline, otherwise the cached
	// timeline with the highest quality. (nil, nil) when none cached.
	Get(trackID string) (*lyrics.Timeline, error)

	// GetAll returns every cached timeline for a track.
	GetAll(trackID string) ([]*lyrics.Timeline, error)

	// Put stores or replaces a timeline, keyed by its ID.
	Put(t *lyrics.Timeline) error

	// Delete evicts one timeline.
	Delete(t *lyrics.Timeline) error

	// Override returns the pinned timeline id for a track, if any.
	Override(trackID string) (string, bool)

	// SetOverride pins a timeline as the permanent choice for a track.
	SetOverride(trackID, timelineID string) error

	// ClearOverride removes the pin.
	ClearOverride(trackID string) error

	// MarkNoLyrics records that a search for this track found nothing,
	// so it is not retried automatically.
	MarkNoLyrics(trackID string) error

	// ClearNoLyrics removes the mark, re-enabling automatic search.
	ClearNoLyrics(trackID string) error

	// HasNoLyricsMark reports whether the track is marked.
	HasNoLyricsMark(trackID string) bool

	Close() error
}

// effective applies the selection policy shared by both backends: a
// resolvable override wins; otherwise the highest quality, with equal
// qualities resolved to the smallest timeline id so a given cache snapshot
// always yields the same pick.
func effective(all []*lyrics.Timeline, overrideID string) *lyrics.Timeline {
	if len(all) == 0 {
		return nil
	}
	if overrideID != "" {
		for _, t := range all {
			if t.ID == overrideID {
				return t
			}
		}
	}
	best := all[0]
	for _, t := range all[1:] {
		if t.Meta.Quality > best.Meta.Quality ||
			(t.Meta.Quality == best.Meta.Quality && t.ID < best.ID) {
			best = t
		}
	}
	return best
}
