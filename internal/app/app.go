// Package app runs the sync engine: it consumes player events, resolves a
// timeline for the current track (cache first, then provider search), and
// drives the line locator and progress computation against the live
// playback clock. All state lives on a single run goroutine; external
// callers talk to it through posted commands.
package app

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kalmaegi/NowLyrics/internal/lyrics"
	"github.com/Kalmaegi/NowLyrics/internal/player"
	"github.com/Kalmaegi/NowLyrics/internal/provider"
	"github.com/Kalmaegi/NowLyrics/internal/store"
)

const (
	// defaultLinePoll caps how long the line loop sleeps between checks,
	// so seeks are picked up quickly even mid-line.
	defaultLinePoll = 100 * time.Millisecond
	// defaultLineWakeMin keeps wakeups from degenerating into a busy loop
	// right before a line boundary.
	defaultLineWakeMin = 50 * time.Millisecond
	// defaultProgressInterval is ~30 fps, enough for smooth karaoke fill.
	defaultProgressInterval = 33 * time.Millisecond
)

var logger = log.With().Str("component", "app").Logger()

// Searcher resolves a query into ranked candidates. *provider.Manager is
// the production implementation.
type Searcher interface {
	Search(ctx context.Context, q provider.Query) ([]lyrics.Candidate, error)
}

// PlayerSource feeds track and playback changes. *player.Source is the
// production implementation.
type PlayerSource interface {
	Events() <-chan player.Event
	Now() (lyrics.Track, lyrics.PlaybackState)
}

// Normalizer cleans a raw title string ("Artist - Title (Official MV)")
// into searchable title and artist. Optional.
type Normalizer interface {
	Normalize(ctx context.Context, raw string) (title, artist string, err error)
}

// Translator produces per-line translations for timelines that have none.
// Optional.
type Translator interface {
	Translate(ctx context.Context, texts []string) ([]string, error)
}

// Options tunes the engine. Zero values pick the defaults above.
type Options struct {
	Normalizer       Normalizer
	Translator       Translator
	LinePoll         time.Duration
	LineWakeMin      time.Duration
	ProgressInterval time.Duration
}

// App is the sync engine.
type App struct {
	store  store.Store
	search Searcher
	source PlayerSource
	feed   *Feed
	opts   Options

	cmds   chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// Everything below is owned by the run goroutine.
	track      lyrics.Track
	playback   lyrics.PlaybackState
	timeline   *lyrics.Timeline
	candidates []lyrics.Candidate
	lineIndex  int

	// Generation tokens. A loop posts results tagged with the id it was
	// started under; a stale wakeup whose id no longer matches is a no-op.
	seq        uint64
	lineID     uint64
	progressID uint64
	searchID   uint64

	lineCancel     context.CancelFunc
	progressCancel context.CancelFunc
	searchCancel   context.CancelFunc
}

// New creates an engine. It does nothing until Start.
func New(st store.Store, search Searcher, source PlayerSource, opts Options) *App {
	if opts.LinePoll <= 0 {
		opts.LinePoll = defaultLinePoll
	}
	if opts.LineWakeMin <= 0 {
		opts.LineWakeMin = defaultLineWakeMin
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		store:     st,
		search:    search,
		source:    source,
		feed:      NewFeed(),
		opts:      opts,
		cmds:      make(chan func(), 16),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		lineIndex: -1,
	}
}

// Feed returns the state feed UI servers subscribe to.
func (a *App) Feed() *Feed { return a.feed }

// Start launches the run goroutine.
func (a *App) Start() {
	a.startOnce.Do(func() {
		go a.run()
	})
}

// Stop shuts the engine down and waits for the run goroutine. The current
// timeline (offset, translations) is persisted on the way out.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		a.cancel()
		<-a.done
	})
}

// SelectCandidate pins one of the current candidates as the user's choice
// for the current track. Unknown ids are ignored.
func (a *App) SelectCandidate(timelineID string) {
	a.post(func() { a.selectCandidate(timelineID) })
}

// AdjustOffset shifts the current timeline by deltaMs (positive = lyrics
// appear later) and recomputes the active line immediately.
func (a *App) AdjustOffset(deltaMs int) {
	a.post(func() { a.adjustOffset(deltaMs) })
}

// SearchAgain clears a cached no-lyrics verdict and re-runs the search for
// the current track.
func (a *App) SearchAgain() {
	a.post(func() { a.searchAgain() })
}

// post queues fn onto the run goroutine. Dropped after Stop.
func (a *App) post(fn func()) {
	select {
	case a.cmds <- fn:
	case <-a.ctx.Done():
	}
}

func (a *App) run() {
	defer close(a.done)

	// Seed from whatever the player is doing right now instead of waiting
	// for the first change event.
	track, state := a.source.Now()
	a.onTrackChanged(track, state)

	events := a.source.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Kind {
			case player.TrackChanged:
				a.onTrackChanged(ev.Track, ev.State)
			case player.StateChanged:
				a.onStateChanged(ev.State)
			}
		case fn := <-a.cmds:
			fn()
		case <-a.ctx.Done():
			a.shutdown()
			return
		}
	}
}

func (a *App) shutdown() {
	a.stopSearch()
	a.stopSync()
	a.persistTimeline()
	a.feed.Close()
}

// persistTimeline writes back mutable timeline state (offset, translation
// backfill). Best effort.
func (a *App) persistTimeline() {
	if a.timeline == nil {
		return
	}
	if err := a.store.Put(a.timeline); err != nil {
		logger.Warn().Err(err).Str("track", a.timeline.TrackID).Msg("persist timeline failed")
	}
}

func (a *App) onTrackChanged(track lyrics.Track, state lyrics.PlaybackState) {
	a.persistTimeline()
	a.stopSearch()
	a.stopSync()

	a.track = track
	a.playback = state
	a.timeline = nil
	a.candidates = nil
	a.lineIndex = -1

	a.feed.SetTrack(track)
	a.feed.SetPlayback(state)
	a.feed.SetTimeline(nil)
	a.feed.SetCandidates(nil)
	a.feed.SetLineIndex(-1)
	a.feed.SetProgress(0)

	if track.IsZero() {
		a.feed.SetStatus(StatusIdle)
		return
	}

	cached, err := a.store.Get(track.ID)
	if err != nil {
		logger.Warn().Err(err).Str("track", track.ID).Msg("cache lookup failed")
	}
	if cached != nil {
		logger.Info().Str("track", track.ID).Str("timeline", cached.ID).Msg("cache hit")
		if all, err := a.store.GetAll(track.ID); err == nil {
			a.candidates = candidatesFromCache(all)
			a.feed.SetCandidates(a.candidates)
		}
		a.adopt(cached)
		return
	}

	if a.store.HasNoLyricsMark(track.ID) {
		logger.Debug().Str("track", track.ID).Msg("track marked as having no lyrics")
		a.feed.SetStatus(StatusNotFound)
		return
	}

	a.startSearch()
}

func (a *App) onStateChanged(state lyrics.PlaybackState) {
	a.playback = state
	a.feed.SetPlayback(state)

	if a.timeline == nil {
		return
	}
	if state.Status == lyrics.StatusPlaying {
		a.feed.SetStatus(StatusSynced)
		a.startSync()
		return
	}

	// Pause keeps the line highlighted but drops the fill; resuming
	// recomputes both from the clock.
	a.stopSync()
	a.feed.SetProgress(0)
	a.feed.SetStatus(StatusPaused)
}

// adopt makes tl the active timeline and starts or parks the sync loops
// depending on transport state.
func (a *App) adopt(tl *lyrics.Timeline) {
	a.timeline = tl
	a.lineIndex = -1
	a.feed.SetTimeline(tl)
	a.feed.SetLineIndex(-1)
	a.feed.SetProgress(0)

	a.backfillTranslation(tl)

	if a.playback.Status == lyrics.StatusPlaying {
		a.feed.SetStatus(StatusSynced)
		a.startSync()
	} else {
		a.feed.SetStatus(StatusPaused)
	}
}

// --- search ---

func (a *App) nextID() uint64 {
	a.seq++
	return a.seq
}

func (a *App) startSearch() {
	a.stopSearch()
	a.feed.SetStatus(StatusSearching)
	a.feed.SetSearching(true)

	id := a.nextID()
	a.searchID = id
	ctx, cancel := context.WithCancel(a.ctx)
	a.searchCancel = cancel

	track := a.track
	go func() {
		q := a.buildQuery(ctx, track)
		cands, err := a.search.Search(ctx, q)
		a.post(func() {
			if a.searchID != id {
				// The track moved on mid-search. The result must not
				// touch the cache or the feed.
				return
			}
			a.searchID = 0
			a.searchCancel = nil
			a.finishSearch(track, cands, err)
		})
	}()
}

func (a *App) stopSearch() {
	a.searchID = 0
	if a.searchCancel != nil {
		a.searchCancel()
		a.searchCancel = nil
	}
	a.feed.SetSearching(false)
}

// buildQuery derives the provider query, running the title normalizer only
// when the player gave us no artist to search with.
func (a *App) buildQuery(ctx context.Context, track lyrics.Track) provider.Query {
	q := provider.Query{
		TrackID:  track.ID,
		Title:    track.Title,
		Artist:   track.Artist,
		Duration: track.Duration,
	}
	if q.Artist != "" || a.opts.Normalizer == nil {
		return q
	}
	title, artist, err := a.opts.Normalizer.Normalize(ctx, track.Title)
	if err != nil {
		logger.Warn().Err(err).Str("raw", track.Title).Msg("title normalize failed")
		return q
	}
	if title != "" {
		q.Title = title
	}
	q.Artist = artist
	logger.Debug().Str("title", q.Title).Str("artist", q.Artist).Msg("normalized query")
	return q
}

func (a *App) finishSearch(track lyrics.Track, cands []lyrics.Candidate, err error) {
	a.feed.SetSearching(false)

	if err != nil {
		if errors.Is(err, provider.ErrNoResults) {
			logger.Info().Str("track", track.ID).Msg("no lyrics found")
			if markErr := a.store.MarkNoLyrics(track.ID); markErr != nil {
				logger.Warn().Err(markErr).Msg("mark no-lyrics failed")
			}
			a.feed.SetStatus(StatusNotFound)
			return
		}
		logger.Error().Err(err).Str("track", track.ID).Msg("lyric search failed")
		a.feed.SetStatus(StatusError)
		return
	}
	if len(cands) == 0 {
		a.feed.SetStatus(StatusNotFound)
		return
	}

	for _, c := range cands {
		c.Timeline.Meta.Quality = int(math.Round(c.Score * 100))
		if putErr := a.store.Put(c.Timeline); putErr != nil {
			logger.Warn().Err(putErr).Str("timeline", c.Timeline.ID).Msg("cache candidate failed")
		}
	}
	a.candidates = cands
	a.feed.SetCandidates(cands)

	logger.Info().
		Str("track", track.ID).
		Int("candidates", len(cands)).
		Float64("top_score", cands[0].Score).
		Msg("search complete")
	a.adopt(cands[0].Timeline)
}

// candidatesFromCache rebuilds the candidate list from stored timelines so
// the UI can still offer alternatives on a cache hit.
func candidatesFromCache(all []*lyrics.Timeline) []lyrics.Candidate {
	cands := make([]lyrics.Candidate, 0, len(all))
	for _, tl := range all {
		cands = append(cands, lyrics.Candidate{Timeline: tl, Score: float64(tl.Meta.Quality) / 100})
	}
	return lyrics.Rank(cands)
}

// --- commands ---

func (a *App) selectCandidate(timelineID string) {
	var chosen *lyrics.Timeline
	for _, c := range a.candidates {
		if c.Timeline.ID == timelineID {
			chosen = c.Timeline
			break
		}
	}
	if chosen == nil {
		logger.Warn().Str("timeline", timelineID).Msg("select: unknown candidate")
		return
	}

	chosen.Meta.UserSelected = true
	if err := a.store.SetOverride(a.track.ID, chosen.ID); err != nil {
		logger.Warn().Err(err).Msg("set override failed")
	}
	if err := a.store.Put(chosen); err != nil {
		logger.Warn().Err(err).Msg("persist selected timeline failed")
	}
	logger.Info().Str("track", a.track.ID).Str("timeline", chosen.ID).Msg("user selected timeline")

	a.stopSync()
	a.adopt(chosen)
}

func (a *App) adjustOffset(deltaMs int) {
	if a.timeline == nil {
		return
	}
	a.timeline.OffsetMs += deltaMs
	logger.Info().Int("offset_ms", a.timeline.OffsetMs).Msg("offset adjusted")
	a.persistTimeline()
	a.feed.SetTimeline(a.timeline)

	if a.playback.Status == lyrics.StatusPlaying {
		// Restarting the loops re-reads the offset immediately instead of
		// waiting out the current sleep.
		a.startSync()
		return
	}
	// Paused: recompute the highlighted line once against the frozen clock.
	at := a.timeline.AdjustedTime(a.playback.PositionAt(time.Now()))
	idx := a.timeline.Locate(at)
	if idx != a.lineIndex {
		a.lineIndex = idx
		a.feed.SetLineIndex(idx)
	}
}

func (a *App) searchAgain() {
	if a.track.IsZero() {
		return
	}
	if err := a.store.ClearNoLyrics(a.track.ID); err != nil {
		logger.Warn().Err(err).Msg("clear no-lyrics mark failed")
	}
	a.stopSync()
	a.timeline = nil
	a.candidates = nil
	a.lineIndex = -1
	a.feed.SetTimeline(nil)
	a.feed.SetCandidates(nil)
	a.feed.SetLineIndex(-1)
	a.feed.SetProgress(0)
	a.startSearch()
}

// --- line loop ---

func (a *App) startSync() {
	a.stopSync()
	if a.timeline == nil || len(a.timeline.Lines) == 0 {
		return
	}

	id := a.nextID()
	a.lineID = id
	ctx, cancel := context.WithCancel(a.ctx)
	a.lineCancel = cancel
	// The offset is captured by value: loops from an older generation keep
	// their stale copy instead of racing an AdjustOffset write, and the
	// restart that follows the write hands the new value to fresh loops.
	go a.lineLoop(ctx, id, a.timeline, a.playback, float64(a.timeline.OffsetMs)/1000)
}

// stopSync halts the line and progress loops. The last published line index
// is deliberately left in place.
func (a *App) stopSync() {
	a.lineID = 0
	if a.lineCancel != nil {
		a.lineCancel()
		a.lineCancel = nil
	}
	a.stopProgress()
}

// lineLoop re-evaluates the active line against the extrapolated clock. The
// sleep is sized to the next line boundary, clamped to [wakeMin, poll]: the
// ceiling bounds seek latency, the floor avoids hot-spinning at a boundary.
func (a *App) lineLoop(ctx context.Context, id uint64, tl *lyrics.Timeline, st lyrics.PlaybackState, offset float64) {
	for {
		at := st.PositionAt(time.Now()) + offset
		idx := tl.Locate(at)
		a.post(func() {
			if a.lineID == id {
				a.applyLine(idx)
			}
		})

		sleep := a.opts.LinePoll
		if idx+1 < len(tl.Lines) {
			until := time.Duration((tl.Lines[idx+1].Start - at) * float64(time.Second))
			if until < sleep {
				sleep = until
			}
			if sleep < a.opts.LineWakeMin {
				sleep = a.opts.LineWakeMin
			}
		}

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) applyLine(idx int) {
	if idx == a.lineIndex {
		return
	}
	a.lineIndex = idx
	a.feed.SetLineIndex(idx)
	a.restartProgress()
}

// --- progress loop ---

func (a *App) restartProgress() {
	a.stopProgress()
	if a.timeline == nil || a.lineIndex < 0 || a.lineIndex >= len(a.timeline.Lines) {
		a.feed.SetProgress(0)
		return
	}

	id := a.nextID()
	a.progressID = id
	ctx, cancel := context.WithCancel(a.ctx)
	a.progressCancel = cancel
	go a.progressLoop(ctx, id, a.timeline, a.lineIndex, a.playback, float64(a.timeline.OffsetMs)/1000)
}

func (a *App) stopProgress() {
	a.progressID = 0
	if a.progressCancel != nil {
		a.progressCancel()
		a.progressCancel = nil
	}
}

func (a *App) progressLoop(ctx context.Context, id uint64, tl *lyrics.Timeline, idx int, st lyrics.PlaybackState, offset float64) {
	line := &tl.Lines[idx]
	var next *lyrics.Line
	if idx+1 < len(tl.Lines) {
		next = &tl.Lines[idx+1]
	}

	ticker := time.NewTicker(a.opts.ProgressInterval)
	defer ticker.Stop()
	for {
		p := lyrics.LineProgress(line, next, st.PositionAt(time.Now())+offset)
		a.post(func() {
			if a.progressID == id {
				a.feed.SetProgress(p)
			}
		})
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// --- translation backfill ---

// backfillTranslation asynchronously fills missing per-line translations.
// The result is applied only if the same timeline is still active.
func (a *App) backfillTranslation(tl *lyrics.Timeline) {
	if a.opts.Translator == nil || tl.Meta.HasTranslation || len(tl.Lines) == 0 {
		return
	}
	texts := make([]string, len(tl.Lines))
	for i, l := range tl.Lines {
		texts[i] = l.Text
	}
	tlID := tl.ID

	go func() {
		out, err := a.opts.Translator.Translate(a.ctx, texts)
		if err != nil {
			logger.Warn().Err(err).Str("timeline", tlID).Msg("translation failed")
			return
		}
		if len(out) != len(texts) {
			logger.Warn().Str("timeline", tlID).Msg("translation result length mismatch")
			return
		}
		a.post(func() {
			if a.timeline == nil || a.timeline.ID != tlID {
				return
			}
			for i := range a.timeline.Lines {
				if out[i] != "" {
					a.timeline.Lines[i].Translation = out[i]
				}
			}
			a.timeline.Meta.HasTranslation = true
			a.persistTimeline()
			a.feed.SetTimeline(a.timeline)
			logger.Info().Str("timeline", tlID).Msg("translation backfilled")
		})
	}()
}
