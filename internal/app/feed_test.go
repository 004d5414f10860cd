package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kalmaegi/NowLyrics/internal/lyrics"
)

func TestFeed_SnapshotTracksLatest(t *testing.T) {
	f := NewFeed()
	assert.Equal(t, -1, f.Snapshot().LineIndex)
	assert.Equal(t, StatusIdle, f.Snapshot().Status)

	f.SetLineIndex(3)
	f.SetProgress(0.5)
	f.SetStatus(StatusSynced)

	snap := f.Snapshot()
	assert.Equal(t, 3, snap.LineIndex)
	assert.Equal(t, 0.5, snap.Progress)
	assert.Equal(t, StatusSynced, snap.Status)
}

func TestFeed_SubscriberReceivesUpdates(t *testing.T) {
	f := NewFeed()
	id, ch := f.Subscribe()
	defer f.Unsubscribe(id)

	f.SetTrack(lyrics.Track{ID: "t1", Title: "Song"})

	u := <-ch
	assert.Equal(t, FieldTrack, u.Field)
	assert.Equal(t, "t1", u.Snapshot.Track.ID)
}

func TestFeed_SlowSubscriberDoesNotBlock(t *testing.T) {
	f := NewFeed()
	_, ch := f.Subscribe()

	// Overflow the subscriber buffer; publish must never block.
	for i := 0; i < 100; i++ {
		f.SetProgress(float64(i) / 100)
	}
	assert.InDelta(t, 0.99, f.Snapshot().Progress, 1e-9)
	// The channel holds the oldest updates it could buffer.
	u := <-ch
	assert.Equal(t, FieldProgress, u.Field)
}

func TestFeed_UnsubscribeClosesChannel(t *testing.T) {
	f := NewFeed()
	id, ch := f.Subscribe()
	f.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)

	// Other subscribers keep working.
	id2, ch2 := f.Subscribe()
	defer f.Unsubscribe(id2)
	f.SetStatus(StatusSearching)
	u := <-ch2
	assert.Equal(t, StatusSearching, u.Snapshot.Status)
}

func TestFeed_CloseIsIdempotent(t *testing.T) {
	f := NewFeed()
	_, ch := f.Subscribe()

	f.Close()
	require.NotPanics(t, f.Close)

	_, open := <-ch
	assert.False(t, open)

	// Subscribing after close yields an already-closed channel.
	_, late := f.Subscribe()
	_, open = <-late
	assert.False(t, open)
}
