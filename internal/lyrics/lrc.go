package lyrics

import (
	"bufio"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	// Matches one or more leading timestamps like [00:12.34][00:45.678]Text.
	// The fractional part is optional; 1/2/3 digits are scaled below.
	lrcTimeRe = regexp.MustCompile(`\[(\d+):(\d{2})(?:\.(\d{1,3}))?\]`)

	// Metadata directives like [ti:Title], [ar:Artist], [offset:+120].
	lrcMetaRe = regexp.MustCompile(`^\[([a-z]+):(.*)\]$`)
)

// ParseLRC parses line-timed lyrics into a Timeline. Unrecognized lines are
// skipped, empty content after trimming produces no line, and the result is
// sorted ascending by start time (stable, ties keep file order). Duplicate
// ti/ar/offset directives resolve first-wins. Returns nil when no line
// parsed; that is the normal "no lyrics" outcome, not an error.
func ParseLRC(text, trackID string, meta Metadata) *Timeline {
	tl := &Timeline{
		ID:      uuid.New().String(),
		TrackID: trackID,
		Meta:    meta,
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		matches := lrcTimeRe.FindAllStringSubmatchIndex(raw, -1)
		if len(matches) == 0 || matches[0][0] != 0 {
			if m := lrcMetaRe.FindStringSubmatch(raw); m != nil {
				tl.applyDirective(m[1], strings.TrimSpace(m[2]))
			}
			continue
		}

		// A line may carry several timestamps for the same text
		// (repeated chorus), but only an unbroken leading run counts;
		// bracketed text later in the line belongs to the lyric.
		leading := matches[:1]
		for i := 1; i < len(matches); i++ {
			if matches[i][0] != matches[i-1][1] {
				break
			}
			leading = matches[:i+1]
		}
		content := strings.TrimSpace(raw[leading[len(leading)-1][1]:])
		if content == "" {
			continue
		}
		for _, m := range leading {
			start, ok := lrcTimestamp(raw, m)
			if !ok {
				continue
			}
			tl.Lines = append(tl.Lines, Line{Start: start, Text: content})
		}
	}

	if len(tl.Lines) == 0 {
		return nil
	}
	sort.SliceStable(tl.Lines, func(i, j int) bool {
		return tl.Lines[i].Start < tl.Lines[j].Start
	})
	return tl
}

// applyDirective handles a metadata directive, first occurrence wins.
func (t *Timeline) applyDirective(tag, value string) {
	switch tag {
	case "ti":
		if t.Title == "" {
			t.Title = value
		}
	case "ar":
		if t.Artist == "" {
			t.Artist = value
		}
	case "offset":
		if t.OffsetMs == 0 {
			if ms, err := strconv.Atoi(value); err == nil {
				t.OffsetMs = ms
			}
		}
	}
}

// lrcTimestamp converts one timestamp submatch into seconds.
func lrcTimestamp(s string, m []int) (float64, bool) {
	minutes, err := strconv.Atoi(s[m[2]:m[3]])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.Atoi(s[m[4]:m[5]])
	if err != nil {
		return 0, false
	}
	ms := 0
	if m[6] >= 0 {
		frac := s[m[6]:m[7]]
		ms, err = strconv.Atoi(frac)
		if err != nil {
			return 0, false
		}
		// .4 is 400ms, .49 is 490ms, .490 is 490ms.
		switch len(frac) {
		case 1:
			ms *= 100
		case 2:
			ms *= 10
		}
	}
	return float64(minutes*60+seconds) + float64(ms)/1000, true
}

// ExportLRC renders a timeline back to line-timed text at centisecond
// precision. Lossy: word marks and translations are dropped.
func ExportLRC(t *Timeline) string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	if t.Title != "" {
		fmt.Fprintf(&b, "[ti:%s]\n", t.Title)
	}
	if t.Artist != "" {
		fmt.Fprintf(&b, "[ar:%s]\n", t.Artist)
	}
	if t.OffsetMs != 0 {
		fmt.Fprintf(&b, "[offset:%d]\n", t.OffsetMs)
	}
	for _, line := range t.Lines {
		cs := int(math.Round(line.Start * 100))
		fmt.Fprintf(&b, "[%02d:%02d.%02d]%s\n", cs/6000, (cs/100)%60, cs%100, line.Text)
	}
	return b.String()
}
