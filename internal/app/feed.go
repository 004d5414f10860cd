package app

import (
	"sync"

	"github.com/Kalmaegi/NowLyrics/internal/lyrics"
)

// Status is the orchestrator state surfaced to UI clients. NotFound and
// Error are distinct so the UI can tell "no lyrics exist" from "the search
// broke"; both are retryable with SearchAgain.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSearching Status = "searching"
	StatusSynced    Status = "synced"
	StatusPaused    Status = "paused"
	StatusNotFound  Status = "not_found"
	StatusError     Status = "error"
)

// Field names one independently-updatable part of the snapshot.
type Field string

const (
	FieldTrack      Field = "track"
	FieldTimeline   Field = "timeline"
	FieldLine       Field = "line"
	FieldProgress   Field = "progress"
	FieldPlayback   Field = "playback"
	FieldStatus     Field = "status"
	FieldSearching  Field = "searching"
	FieldCandidates Field = "candidates"
)

// Snapshot is the full state pushed to UI clients.
type Snapshot struct {
	Track      lyrics.Track         `json:"track"`
	Timeline   *lyrics.Timeline     `json:"timeline,omitempty"`
	LineIndex  int                  `json:"line_index"`
	Progress   float64              `json:"progress"`
	Playback   lyrics.PlaybackState `json:"playback"`
	Status     Status               `json:"status"`
	Searching  bool                 `json:"searching"`
	Candidates []lyrics.Candidate   `json:"candidates,omitempty"`
}

// Update is one change notification: which field moved plus the whole
// snapshot, so consumers never need a second read.
type Update struct {
	Field    Field    `json:"field"`
	Snapshot Snapshot `json:"snapshot"`
}

// Feed is a latest-value register with per-subscriber change channels.
// Slow subscribers miss intermediate updates rather than blocking the
// producer; they can always re-read the snapshot.
type Feed struct {
	mu     sync.Mutex
	snap   Snapshot
	subs   map[uint64]chan Update
	nextID uint64
	closed bool
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{
		snap: Snapshot{LineIndex: -1, Status: StatusIdle},
		subs: make(map[uint64]chan Update),
	}
}

// Snapshot returns the latest value.
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

// Subscribe registers a change channel. The channel is closed by Close.
func (f *Feed) Subscribe() (uint64, <-chan Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ch := make(chan Update, 32)
	if f.closed {
		close(ch)
		return f.nextID, ch
	}
	f.subs[f.nextID] = ch
	return f.nextID, ch
}

// Unsubscribe drops one subscriber; others are unaffected.
func (f *Feed) Unsubscribe(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

// Close closes every subscriber channel. Idempotent.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

func (f *Feed) publish(field Field, mutate func(*Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	mutate(&f.snap)
	u := Update{Field: field, Snapshot: f.snap}
	for _, ch := range f.subs {
		select {
		case ch <- u:
		default: // subscriber is behind; it will catch up from the snapshot
		}
	}
}

func (f *Feed) SetTrack(t lyrics.Track) {
	f.publish(FieldTrack, func(s *Snapshot) { s.Track = t })
}

func (f *Feed) SetTimeline(t *lyrics.Timeline) {
	f.publish(FieldTimeline, func(s *Snapshot) { s.Timeline = t })
}

func (f *Feed) SetLineIndex(i int) {
	f.publish(FieldLine, func(s *Snapshot) { s.LineIndex = i })
}

func (f *Feed) SetProgress(p float64) {
	f.publish(FieldProgress, func(s *Snapshot) { s.Progress = p })
}

func (f *Feed) SetPlayback(st lyrics.PlaybackState) {
	f.publish(FieldPlayback, func(s *Snapshot) { s.Playback = st })
}

func (f *Feed) SetStatus(st Status) {
	f.publish(FieldStatus, func(s *Snapshot) { s.Status = st })
}

func (f *Feed) SetSearching(b bool) {
	f.publish(FieldSearching, func(s *Snapshot) { s.Searching = b })
}

func (f *Feed) SetCandidates(c []lyrics.Candidate) {
	f.publish(FieldCandidates, func(s *Snapshot) { s.Candidates = c })
}
