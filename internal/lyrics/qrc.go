package lyrics

import (
	"bufio"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	// Line header: [lineStartMs,durationMs]
	qrcLineRe = regexp.MustCompile(`^\[(\d+),(\d+)\]`)

	// Character group: (charStartMs,charDurationMs,flags)
	qrcCharRe = regexp.MustCompile(`\((\d+),(\d+),(-?\d+)\)`)
)

// ParseQRC parses word-timed lyrics into a Timeline. Each physical line is
// [startMs,durMs] followed by (startMs,durMs,flag)char groups; the text
// between a group and the next belongs to that group. Group times are
// absolute in the source and rebased to the line start here, since a
// WordMark offset is relative. The format carries no character index, so
// CharIndex is assigned by running count. Malformed lines and lines
// yielding no characters are skipped. Returns nil when no line parsed.
func ParseQRC(text, trackID string, meta Metadata) *Timeline {
	tl := &Timeline{
		ID:      uuid.New().String(),
		TrackID: trackID,
		Meta:    meta,
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		header := qrcLineRe.FindStringSubmatch(raw)
		if header == nil {
			continue
		}
		startMs, err := strconv.Atoi(header[1])
		if err != nil {
			continue
		}

		line := Line{Start: float64(startMs) / 1000}
		rest := raw[len(header[0]):]
		groups := qrcCharRe.FindAllStringSubmatchIndex(rest, -1)
		var b strings.Builder
		count := 0
		for gi, g := range groups {
			charMs, err := strconv.Atoi(rest[g[2]:g[3]])
			if err != nil {
				continue
			}
			offMs := charMs - startMs
			if offMs < 0 {
				offMs = 0
			}
			end := len(rest)
			if gi+1 < len(groups) {
				end = groups[gi+1][0]
			}
			seg := rest[g[1]:end]
			for _, r := range seg {
				b.WriteRune(r)
				line.Marks = append(line.Marks, WordMark{
					Offset:    float64(offMs) / 1000,
					CharIndex: count,
				})
				count++
			}
		}
		line.Text = b.String()
		if count == 0 {
			continue
		}
		tl.Lines = append(tl.Lines, line)
	}

	if len(tl.Lines) == 0 {
		return nil
	}
	sort.SliceStable(tl.Lines, func(i, j int) bool {
		return tl.Lines[i].Start < tl.Lines[j].Start
	})
	for _, l := range tl.Lines {
		if len(l.Marks) > 0 {
			tl.Meta.HasWordMarks = true
			break
		}
	}
	return tl
}
