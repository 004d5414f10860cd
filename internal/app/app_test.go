package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kalmaegi/NowLyrics/internal/lyrics"
	"github.com/Kalmaegi/NowLyrics/internal/player"
	"github.com/Kalmaegi/NowLyrics/internal/provider"
	"github.com/Kalmaegi/NowLyrics/internal/store"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeSource struct {
	events chan player.Event

	mu    sync.Mutex
	track lyrics.Track
	state lyrics.PlaybackState
}

func newFakeSource(track lyrics.Track, state lyrics.PlaybackState) *fakeSource {
	return &fakeSource{
		events: make(chan player.Event, 8),
		track:  track,
		state:  state,
	}
}

func (f *fakeSource) Events() <-chan player.Event { return f.events }

func (f *fakeSource) Now() (lyrics.Track, lyrics.PlaybackState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.track, f.state
}

func (f *fakeSource) changeTrack(track lyrics.Track, state lyrics.PlaybackState) {
	f.mu.Lock()
	f.track, f.state = track, state
	f.mu.Unlock()
	f.events <- player.Event{Kind: player.TrackChanged, Track: track, State: state}
}

func (f *fakeSource) changeState(state lyrics.PlaybackState) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
	f.events <- player.Event{Kind: player.StateChanged, State: state}
}

type stubSearcher struct {
	mu      sync.Mutex
	calls   int
	cands   []lyrics.Candidate
	err     error
	blockCh chan struct{} // when set, Search waits for close or ctx
}

func (s *stubSearcher) Search(ctx context.Context, q provider.Query) ([]lyrics.Candidate, error) {
	s.mu.Lock()
	s.calls++
	block := s.blockCh
	cands, err := s.cands, s.err
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	return cands, err
}

func (s *stubSearcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubSearcher) set(cands []lyrics.Candidate, err error) {
	s.mu.Lock()
	s.cands, s.err = cands, err
	s.mu.Unlock()
}

func testTimeline(id, trackID string, starts ...float64) *lyrics.Timeline {
	lines := make([]lyrics.Line, len(starts))
	for i, st := range starts {
		lines[i] = lyrics.Line{Start: st, Text: "line"}
	}
	return &lyrics.Timeline{
		ID:      id,
		TrackID: trackID,
		Title:   "Song",
		Artist:  "Artist",
		Meta:    lyrics.Metadata{Source: lyrics.SourceLRCLib},
		Lines:   lines,
	}
}

func playing(pos float64) lyrics.PlaybackState {
	return lyrics.PlaybackState{Status: lyrics.StatusPlaying, Position: pos, ObservedAt: time.Now()}
}

func paused(pos float64) lyrics.PlaybackState {
	return lyrics.PlaybackState{Status: lyrics.StatusPaused, Position: pos, ObservedAt: time.Now()}
}

func openStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestApp_SearchAdoptsTopCandidate(t *testing.T) {
	st := openStore(t)
	track := lyrics.Track{ID: "tr-1", Title: "Song", Artist: "Artist"}
	search := &stubSearcher{cands: []lyrics.Candidate{
		{Timeline: testTimeline("good", "tr-1", 0, 100), Score: 0.9},
		{Timeline: testTimeline("poor", "tr-1", 0, 100), Score: 0.4},
	}}
	src := newFakeSource(track, playing(1))

	a := New(st, search, src, Options{})
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool {
		snap := a.Feed().Snapshot()
		return snap.Status == StatusSynced && snap.Timeline != nil && snap.Timeline.ID == "good"
	}, waitFor, tick)

	// Every candidate was cached with its quality derived from the score.
	all, err := st.GetAll("tr-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	byID := map[string]int{}
	for _, tl := range all {
		byID[tl.ID] = tl.Meta.Quality
	}
	assert.Equal(t, 90, byID["good"])
	assert.Equal(t, 40, byID["poor"])

	snap := a.Feed().Snapshot()
	require.Len(t, snap.Candidates, 2)
	assert.Equal(t, "good", snap.Candidates[0].Timeline.ID)
}

func TestApp_SelectCandidateSetsOverride(t *testing.T) {
	st := openStore(t)
	track := lyrics.Track{ID: "tr-1", Title: "Song", Artist: "Artist"}
	search := &stubSearcher{cands: []lyrics.Candidate{
		{Timeline: testTimeline("good", "tr-1", 0, 100), Score: 0.9},
		{Timeline: testTimeline("poor", "tr-1", 0, 100), Score: 0.4},
	}}
	src := newFakeSource(track, playing(1))

	a := New(st, search, src, Options{})
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool {
		snap := a.Feed().Snapshot()
		return snap.Timeline != nil && snap.Timeline.ID == "good"
	}, waitFor, tick)

	a.SelectCandidate("poor")

	require.Eventually(t, func() bool {
		snap := a.Feed().Snapshot()
		return snap.Timeline != nil && snap.Timeline.ID == "poor"
	}, waitFor, tick)

	id, ok := st.Override("tr-1")
	assert.True(t, ok)
	assert.Equal(t, "poor", id)

	// The override survives: a fresh lookup yields the user's choice.
	got, err := st.Get("tr-1")
	require.NoError(t, err)
	assert.Equal(t, "poor", got.ID)
	assert.True(t, got.Meta.UserSelected)
}

func TestApp_NoResultsMarksTrackAndSearchAgainClears(t *testing.T) {
	st := openStore(t)
	track := lyrics.Track{ID: "tr-1", Title: "Song", Artist: "Artist"}
	search := &stubSearcher{err: provider.ErrNoResults}
	src := newFakeSource(track, playing(1))

	a := New(st, search, src, Options{})
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool {
		return a.Feed().Snapshot().Status == StatusNotFound
	}, waitFor, tick)
	assert.True(t, st.HasNoLyricsMark("tr-1"))

	search.set([]lyrics.Candidate{
		{Timeline: testTimeline("late", "tr-1", 0, 100), Score: 0.8},
	}, nil)
	a.SearchAgain()

	require.Eventually(t, func() bool {
		snap := a.Feed().Snapshot()
		return snap.Status == StatusSynced && snap.Timeline != nil && snap.Timeline.ID == "late"
	}, waitFor, tick)
	assert.False(t, st.HasNoLyricsMark("tr-1"))
}

func TestApp_CacheHitSkipsSearch(t *testing.T) {
	st := openStore(t)
	cached := testTimeline("cached", "tr-1", 0, 100)
	cached.Meta.Quality = 85
	require.NoError(t, st.Put(cached))

	track := lyrics.Track{ID: "tr-1", Title: "Song", Artist: "Artist"}
	search := &stubSearcher{}
	src := newFakeSource(track, playing(1))

	a := New(st, search, src, Options{})
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool {
		snap := a.Feed().Snapshot()
		return snap.Status == StatusSynced && snap.Timeline != nil && snap.Timeline.ID == "cached"
	}, waitFor, tick)
	assert.Equal(t, 0, search.callCount())
}

func TestApp_PauseResetsProgressKeepsLine(t *testing.T) {
	st := openStore(t)
	track := lyrics.Track{ID: "tr-1", Title: "Song", Artist: "Artist"}
	search := &stubSearcher{cands: []lyrics.Candidate{
		{Timeline: testTimeline("tl", "tr-1", 0, 100), Score: 0.9},
	}}
	src := newFakeSource(track, playing(1))

	a := New(st, search, src, Options{})
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool {
		snap := a.Feed().Snapshot()
		return snap.Status == StatusSynced && snap.LineIndex == 0 && snap.Progress > 0
	}, waitFor, tick)

	src.changeState(paused(2))

	require.Eventually(t, func() bool {
		snap := a.Feed().Snapshot()
		return snap.Status == StatusPaused && snap.Progress == 0
	}, waitFor, tick)
	assert.Equal(t, 0, a.Feed().Snapshot().LineIndex)

	// Resume re-derives line and progress from the clock.
	src.changeState(playing(2))
	require.Eventually(t, func() bool {
		snap := a.Feed().Snapshot()
		return snap.Status == StatusSynced && snap.Progress > 0
	}, waitFor, tick)
}

func TestApp_AdjustOffsetWhilePaused(t *testing.T) {
	st := openStore(t)
	track := lyrics.Track{ID: "tr-1", Title: "Song", Artist: "Artist"}
	search := &stubSearcher{cands: []lyrics.Candidate{
		{Timeline: testTimeline("tl", "tr-1", 0, 10), Score: 0.9},
	}}
	src := newFakeSource(track, paused(5))

	a := New(st, search, src, Options{})
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool {
		snap := a.Feed().Snapshot()
		return snap.Status == StatusPaused && snap.Timeline != nil
	}, waitFor, tick)

	// Paused at 5s the highlight sits on the first line; shifting the
	// timeline forward 6s pushes the adjusted clock past the second.
	a.AdjustOffset(6000)

	require.Eventually(t, func() bool {
		snap := a.Feed().Snapshot()
		return snap.LineIndex == 1 && snap.Timeline.OffsetMs == 6000
	}, waitFor, tick)

	// The shift was persisted.
	got, err := st.Get("tr-1")
	require.NoError(t, err)
	assert.Equal(t, 6000, got.OffsetMs)
}

func TestApp_AdjustOffsetWhilePlaying(t *testing.T) {
	st := openStore(t)
	track := lyrics.Track{ID: "tr-1", Title: "Song", Artist: "Artist"}
	search := &stubSearcher{cands: []lyrics.Candidate{
		{Timeline: testTimeline("tl", "tr-1", 0, 100), Score: 0.9},
	}}
	src := newFakeSource(track, playing(5))

	a := New(st, search, src, Options{})
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool {
		snap := a.Feed().Snapshot()
		return snap.Status == StatusSynced && snap.LineIndex == 0
	}, waitFor, tick)

	// Shifting far enough forward moves the adjusted clock past the
	// second line; the restarted loops must pick the new offset up while
	// the old ones are still draining.
	a.AdjustOffset(96_000)

	require.Eventually(t, func() bool {
		snap := a.Feed().Snapshot()
		return snap.LineIndex == 1 && snap.Timeline.OffsetMs == 96_000
	}, waitFor, tick)

	// The highlight keeps advancing under the shifted clock.
	require.Eventually(t, func() bool {
		return a.Feed().Snapshot().Progress > 0
	}, waitFor, tick)
}

func TestApp_StaleLineWakeupIgnoredAfterResume(t *testing.T) {
	st := openStore(t)
	track := lyrics.Track{ID: "tr-1", Title: "Song", Artist: "Artist"}
	search := &stubSearcher{cands: []lyrics.Candidate{
		{Timeline: testTimeline("tl", "tr-1", 0, 10, 100), Score: 0.9},
	}}
	src := newFakeSource(track, playing(12))

	a := New(st, search, src, Options{})
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool {
		snap := a.Feed().Snapshot()
		return snap.Status == StatusSynced && snap.LineIndex == 1
	}, waitFor, tick)

	// Remember the generation the pre-pause loop was started under.
	staleID := make(chan uint64, 1)
	a.post(func() { staleID <- a.lineID })
	stale := <-staleID

	// Pause, then resume having seeked back before the second line.
	src.changeState(paused(12))
	require.Eventually(t, func() bool {
		return a.Feed().Snapshot().Status == StatusPaused
	}, waitFor, tick)
	src.changeState(playing(1))
	require.Eventually(t, func() bool {
		snap := a.Feed().Snapshot()
		return snap.Status == StatusSynced && snap.LineIndex == 0
	}, waitFor, tick)

	// Deliver the wakeup the cancelled loop had computed before it saw
	// the cancellation: same shape as the loop's own post, tagged with
	// the superseded generation. It must not apply.
	applied := make(chan struct{})
	a.post(func() {
		if a.lineID == stale {
			a.applyLine(1)
		}
		close(applied)
	})
	<-applied

	assert.Equal(t, 0, a.Feed().Snapshot().LineIndex)
}

func TestApp_SupersededSearchIsDiscarded(t *testing.T) {
	st := openStore(t)
	track := lyrics.Track{ID: "tr-old", Title: "Song", Artist: "Artist"}
	gate := make(chan struct{})
	search := &stubSearcher{
		cands:   []lyrics.Candidate{{Timeline: testTimeline("stale", "tr-old", 0, 100), Score: 0.9}},
		blockCh: gate,
	}
	src := newFakeSource(track, playing(1))

	a := New(st, search, src, Options{})
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool {
		return search.callCount() == 1
	}, waitFor, tick)

	// Track goes away while the search is in flight.
	src.changeTrack(lyrics.Track{}, lyrics.PlaybackState{Status: lyrics.StatusStopped})
	require.Eventually(t, func() bool {
		return a.Feed().Snapshot().Status == StatusIdle
	}, waitFor, tick)

	// Let the stale search complete; its result must not reach the cache
	// or the feed.
	close(gate)
	time.Sleep(50 * time.Millisecond)

	all, err := st.GetAll("tr-old")
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Nil(t, a.Feed().Snapshot().Timeline)
	assert.Equal(t, StatusIdle, a.Feed().Snapshot().Status)
}
