package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Kalmaegi/NowLyrics/internal/lyrics"
)

const prefsSeparator = " => "

var invalidPathChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// FileStore keeps timelines as JSON files with a human-readable .lrc export
// beside them, one directory per track, plus flat line-per-entry files for
// the override map and the no-lyrics set.
type FileStore struct {
	root string

	mu        sync.Mutex
	overrides map[string]string
	noLyrics  map[string]struct{}
}

// OpenFileStore opens (creating if needed) a file store rooted at dir and
// loads the override and no-lyrics files.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "tracks"), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	s := &FileStore{
		root:      dir,
		overrides: make(map[string]string),
		noLyrics:  make(map[string]struct{}),
	}
	s.loadPrefs()
	return s, nil
}

func (s *FileStore) trackDir(trackID string) string {
	return filepath.Join(s.root, "tracks", sanitizePath(trackID))
}

func sanitizePath(name string) string {
	name = invalidPathChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	if len(name) > 100 {
		name = name[:100]
	}
	if name == "" {
		name = "_"
	}
	return name
}

// Get implements Store.
func (s *FileStore) Get(trackID string) (*lyrics.Timeline, error) {
	all, err := s.GetAll(trackID)
	if err != nil {
		return nil, err
	}
	overrideID, _ := s.Override(trackID)
	return effective(all, overrideID), nil
}

// GetAll implements Store. A missing track directory is not an error; it is
// a plain cache miss.
func (s *FileStore) GetAll(trackID string) ([]*lyrics.Timeline, error) {
	entries, err := os.ReadDir(s.trackDir(trackID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read track dir: %w", err)
	}

	var all []*lyrics.Timeline
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.trackDir(trackID), e.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable cache entry")
			continue
		}
		var tl lyrics.Timeline
		if err := json.Unmarshal(data, &tl); err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("skipping corrupt cache entry")
			continue
		}
		all = append(all, &tl)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// Put implements Store: the full timeline as JSON plus a lossy .lrc export
// for inspection and manual editing.
func (s *FileStore) Put(t *lyrics.Timeline) error {
	dir := s.trackDir(t.TrackID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create track dir: %w", err)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, t.ID+".json"), data, 0o644); err != nil {
		return fmt.Errorf("write timeline: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, t.ID+".lrc"), []byte(lyrics.ExportLRC(t)), 0o644); err != nil {
		return fmt.Errorf("write lrc export: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(t *lyrics.Timeline) error {
	dir := s.trackDir(t.TrackID)
	if err := os.Remove(filepath.Join(dir, t.ID+".json")); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(filepath.Join(dir, t.ID+".lrc")); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Override implements Store.
func (s *FileStore) Override(trackID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.overrides[trackID]
	return id, ok
}

// SetOverride implements Store.
func (s *FileStore) SetOverride(trackID, timelineID string) error {
	s.mu.Lock()
	s.overrides[trackID] = timelineID
	s.mu.Unlock()
	return s.savePrefs()
}

// ClearOverride implements Store.
func (s *FileStore) ClearOverride(trackID string) error {
	s.mu.Lock()
	delete(s.overrides, trackID)
	s.mu.Unlock()
	return s.savePrefs()
}

// MarkNoLyrics implements Store.
func (s *FileStore) MarkNoLyrics(trackID string) error {
	s.mu.Lock()
	s.noLyrics[trackID] = struct{}{}
	s.mu.Unlock()
	return s.savePrefs()
}

// ClearNoLyrics implements Store.
func (s *FileStore) ClearNoLyrics(trackID string) error {
	s.mu.Lock()
	delete(s.noLyrics, trackID)
	s.mu.Unlock()
	return s.savePrefs()
}

// HasNoLyricsMark implements Store.
func (s *FileStore) HasNoLyricsMark(trackID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.noLyrics[trackID]
	return ok
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) prefsPath() string    { return filepath.Join(s.root, "prefs.list") }
func (s *FileStore) noLyricsPath() string { return filepath.Join(s.root, "nolyrics.list") }

func (s *FileStore) loadPrefs() {
	if data, err := os.ReadFile(s.prefsPath()); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			kv := strings.SplitN(line, prefsSeparator, 2)
			if len(kv) != 2 {
				continue
			}
			s.overrides[kv[0]] = kv[1]
		}
	}
	if data, err := os.ReadFile(s.noLyricsPath()); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				s.noLyrics[line] = struct{}{}
			}
		}
	}
}

func (s *FileStore) savePrefs() error {
	s.mu.Lock()
	var prefs, marks strings.Builder
	for k, v := range s.overrides {
		prefs.WriteString(k + prefsSeparator + v + "\n")
	}
	for k := range s.noLyrics {
		marks.WriteString(k + "\n")
	}
	s.mu.Unlock()

	if err := os.WriteFile(s.prefsPath(), []byte(prefs.String()), 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := os.WriteFile(s.noLyricsPath(), []byte(marks.String()), 0o644); err != nil {
		return fmt.Errorf("write no-lyrics marks: %w", err)
	}
	return nil
}
