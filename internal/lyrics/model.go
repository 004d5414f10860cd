// Package lyrics holds the normalized timed-text model shared by the
// parsers, the sync engine and the candidate ranking: tracks, playback
// state, timelines of timestamped lines and optional per-character marks.
package lyrics

import (
	"time"
)

// Source identifies where a timeline came from.
type Source string

const (
	SourceLRCLib  Source = "lrclib"
	SourceNetEase Source = "netease"
	SourceQQMusic Source = "qqmusic"
	SourceLocal   Source = "local"
	SourceManual  Source = "manual"
	SourceUnknown Source = "unknown"
)

// Format tags raw provider text so it can be dispatched to the right parser.
type Format string

const (
	FormatLine Format = "line" // one timestamp per line (LRC)
	FormatWord Format = "word" // per-character timestamps (QRC)
)

// Track is the now-playing value reported by the media player. Immutable;
// replaced wholesale on every detected change.
type Track struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album,omitempty"`
	Duration   float64 `json:"duration"` // seconds
	ArtworkURL string  `json:"artwork_url,omitempty"`
}

// IsZero reports whether t is the "no track" sentinel.
func (t Track) IsZero() bool {
	return t.ID == "" && t.Title == ""
}

// PlaybackStatus is the player transport state.
type PlaybackStatus string

const (
	StatusPlaying PlaybackStatus = "playing"
	StatusPaused  PlaybackStatus = "paused"
	StatusStopped PlaybackStatus = "stopped"
	StatusUnknown PlaybackStatus = "unknown"
)

// PlaybackState is a position sample taken at ObservedAt. The sync engine
// extrapolates between player polls instead of polling every frame.
type PlaybackState struct {
	Status     PlaybackStatus `json:"status"`
	Position   float64        `json:"position"` // seconds at ObservedAt
	ObservedAt time.Time      `json:"observed_at"`
}

// PositionAt returns the playback position in seconds at the given instant,
// extrapolated from the last sample while playing.
func (s PlaybackState) PositionAt(now time.Time) float64 {
	if s.Status == StatusPlaying {
		return s.Position + now.Sub(s.ObservedAt).Seconds()
	}
	return s.Position
}

// WordMark records the highlight onset of a single character, relative to
// the start of its owning line.
type WordMark struct {
	Offset    float64 `json:"offset"` // seconds from line start
	CharIndex int     `json:"char"`
}

// Line is one timestamped lyric line. Marks, when present, has one entry per
// character of Text in order.
type Line struct {
	Start       float64    `json:"start"` // seconds
	Text        string     `json:"text"`
	Translation string     `json:"translation,omitempty"`
	Marks       []WordMark `json:"marks,omitempty"`
}

// Metadata describes a timeline's provenance and quality.
type Metadata struct {
	Source         Source    `json:"source"`
	SourceID       string    `json:"source_id,omitempty"`
	Quality        int       `json:"quality"` // 0..100
	HasTranslation bool      `json:"has_translation"`
	HasWordMarks   bool      `json:"has_word_marks"`
	Language       string    `json:"language,omitempty"`
	UserSelected   bool      `json:"user_selected"`
	FetchedAt      time.Time `json:"fetched_at,omitempty"`
}

// Timeline is a parsed set of lyric lines for one track. Lines is kept
// sorted ascending by start time; Locate depends on that. OffsetMs is a
// signed correction applied uniformly before lookup.
type Timeline struct {
	ID       string   `json:"id"`
	TrackID  string   `json:"track_id"`
	Title    string   `json:"title"`
	Artist   string   `json:"artist"`
	Meta     Metadata `json:"meta"`
	Lines    []Line   `json:"lines"`
	OffsetMs int      `json:"offset_ms"`
}

// AdjustedTime applies the timeline offset to a raw playback position.
func (t *Timeline) AdjustedTime(raw float64) float64 {
	return raw + float64(t.OffsetMs)/1000
}

// Candidate is a scored search result.
type Candidate struct {
	Timeline *Timeline `json:"timeline"`
	Score    float64   `json:"score"` // 0..1
}

// MergeTranslation fills per-line translations from a second timeline whose
// lines carry the translated text at matching start times. Lines without a
// time match are left untouched.
func MergeTranslation(t *Timeline, translated *Timeline) {
	if t == nil || translated == nil || len(translated.Lines) == 0 {
		return
	}
	byTime := make(map[int64]string, len(translated.Lines))
	for _, l := range translated.Lines {
		if l.Text != "" {
			byTime[int64(l.Start*1000)] = l.Text
		}
	}
	merged := false
	for i := range t.Lines {
		if tr, ok := byTime[int64(t.Lines[i].Start*1000)]; ok {
			t.Lines[i].Translation = tr
			merged = true
		}
	}
	if merged {
		t.Meta.HasTranslation = true
	}
}
