// Package player watches the session bus for an MPRIS media player and
// reports the current track and playback state.
package player

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"

	"github.com/Kalmaegi/NowLyrics/internal/lyrics"
)

const (
	mprisPrefix      = "org.mpris.MediaPlayer2."
	mprisPath        = "/org/mpris/MediaPlayer2"
	mprisPlayerIface = "org.mpris.MediaPlayer2.Player"

	// seekThreshold is how far the reported position may drift from the
	// extrapolated one before it counts as a seek.
	seekThreshold = 1.0 // seconds
)

// EventKind discriminates Source events.
type EventKind int

const (
	TrackChanged EventKind = iota
	StateChanged
)

// Event is one observed player change.
type Event struct {
	Kind  EventKind
	Track lyrics.Track
	State lyrics.PlaybackState
}

var logger = log.With().Str("component", "player").Logger()

// Source polls the first available MPRIS player on the session bus.
type Source struct {
	conn     *dbus.Conn
	interval time.Duration
	events   chan Event

	mu    sync.Mutex
	track lyrics.Track
	state lyrics.PlaybackState
}

// NewSource connects to the session bus. interval is the poll period
// (~500ms is what players themselves refresh at).
func NewSource(interval time.Duration) (*Source, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &Source{
		conn:     conn,
		interval: interval,
		events:   make(chan Event, 16),
		state:    lyrics.PlaybackState{Status: lyrics.StatusUnknown},
	}, nil
}

// Events returns the change feed. Closed when Run returns.
func (s *Source) Events() <-chan Event { return s.events }

// Now returns the latest observed track and playback state.
func (s *Source) Now() (lyrics.Track, lyrics.PlaybackState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track, s.state
}

// Run polls until ctx is cancelled. A bus error on one tick is logged and
// retried on the next; it never stops the loop.
func (s *Source) Run(ctx context.Context) {
	defer close(s.events)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.poll(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Source) poll(ctx context.Context) {
	track, state, err := s.read()
	if err != nil {
		logger.Debug().Err(err).Msg("player poll failed")
		track = lyrics.Track{}
		state = lyrics.PlaybackState{Status: lyrics.StatusUnknown, ObservedAt: time.Now()}
	}

	s.mu.Lock()
	prevTrack, prevState := s.track, s.state
	s.track, s.state = track, state
	s.mu.Unlock()

	if track.ID != prevTrack.ID || track.Title != prevTrack.Title {
		logger.Info().Str("title", track.Title).Str("artist", track.Artist).Msg("track changed")
		s.emit(ctx, Event{Kind: TrackChanged, Track: track, State: state})
		return
	}

	if state.Status != prevState.Status ||
		math.Abs(state.Position-prevState.PositionAt(state.ObservedAt)) > seekThreshold {
		s.emit(ctx, Event{Kind: StateChanged, Track: track, State: state})
	}
}

func (s *Source) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// read finds the first MPRIS name on the bus and reads its properties.
func (s *Source) read() (lyrics.Track, lyrics.PlaybackState, error) {
	name, err := s.findPlayer()
	if err != nil {
		return lyrics.Track{}, lyrics.PlaybackState{}, err
	}
	if name == "" {
		return lyrics.Track{}, lyrics.PlaybackState{
			Status:     lyrics.StatusStopped,
			ObservedAt: time.Now(),
		}, nil
	}

	obj := s.conn.Object(name, mprisPath)

	metaVar, err := obj.GetProperty(mprisPlayerIface + ".Metadata")
	if err != nil {
		return lyrics.Track{}, lyrics.PlaybackState{}, fmt.Errorf("read metadata: %w", err)
	}
	meta, _ := metaVar.Value().(map[string]dbus.Variant)
	track := trackFromMetadata(meta)

	state := lyrics.PlaybackState{Status: lyrics.StatusUnknown, ObservedAt: time.Now()}
	if statusVar, err := obj.GetProperty(mprisPlayerIface + ".PlaybackStatus"); err == nil {
		if str, ok := statusVar.Value().(string); ok {
			state.Status = playbackStatus(str)
		}
	}
	if posVar, err := obj.GetProperty(mprisPlayerIface + ".Position"); err == nil {
		if us, ok := posVar.Value().(int64); ok {
			state.Position = float64(us) / 1e6
		}
	}
	return track, state, nil
}

// findPlayer returns the first org.mpris.MediaPlayer2.* name on the bus, or
// "" when no player is running.
func (s *Source) findPlayer() (string, error) {
	var names []string
	err := s.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)
	if err != nil {
		return "", fmt.Errorf("list bus names: %w", err)
	}
	for _, n := range names {
		if strings.HasPrefix(n, mprisPrefix) {
			return n, nil
		}
	}
	return "", nil
}

// trackFromMetadata maps an MPRIS metadata dictionary to a Track.
func trackFromMetadata(meta map[string]dbus.Variant) lyrics.Track {
	var t lyrics.Track
	if meta == nil {
		return t
	}
	if v, ok := meta["mpris:trackid"]; ok {
		switch id := v.Value().(type) {
		case dbus.ObjectPath:
			t.ID = string(id)
		case string:
			t.ID = id
		}
	}
	if v, ok := meta["xesam:title"]; ok {
		t.Title, _ = v.Value().(string)
	}
	if v, ok := meta["xesam:artist"]; ok {
		switch a := v.Value().(type) {
		case []string:
			if len(a) > 0 {
				t.Artist = a[0]
			}
		case string:
			t.Artist = a
		}
	}
	if v, ok := meta["xesam:album"]; ok {
		t.Album, _ = v.Value().(string)
	}
	if v, ok := meta["mpris:length"]; ok {
		switch l := v.Value().(type) {
		case int64:
			t.Duration = float64(l) / 1e6
		case uint64:
			t.Duration = float64(l) / 1e6
		}
	}
	if v, ok := meta["mpris:artUrl"]; ok {
		t.ArtworkURL, _ = v.Value().(string)
	}
	// Some players omit a usable trackid; fall back to a composite so
	// track-change detection still works.
	if t.ID == "" && t.Title != "" {
		t.ID = t.Artist + " - " + t.Title
	}
	return t
}

// playbackStatus maps the MPRIS PlaybackStatus string.
func playbackStatus(s string) lyrics.PlaybackStatus {
	switch s {
	case "Playing":
		return lyrics.StatusPlaying
	case "Paused":
		return lyrics.StatusPaused
	case "Stopped":
		return lyrics.StatusStopped
	default:
		return lyrics.StatusUnknown
	}
}
