package lyrics

import "sort"

// defaultLineDuration is assumed for the last line, which has no successor
// to bound it.
const defaultLineDuration = 3.0

// LineProgress computes the 0..1 highlight fraction of a line at the given
// playback time. With word marks it counts elapsed character onsets and
// blends linearly inside the current character for smooth sub-character
// animation; without marks it interpolates uniformly across the line
// duration. next may be nil for the last line.
func LineProgress(line *Line, next *Line, now float64) float64 {
	if line == nil {
		return 0
	}
	relative := now - line.Start
	if relative < 0 {
		return 0
	}

	if len(line.Marks) > 0 {
		total := len(line.Marks)
		lit := sort.Search(total, func(i int) bool {
			return line.Marks[i].Offset > relative
		})
		if lit >= total {
			return 1
		}
		base := float64(lit) / float64(total)
		if lit == 0 {
			return base
		}
		span := line.Marks[lit].Offset - line.Marks[lit-1].Offset
		if span <= 0 {
			return base
		}
		frac := (relative - line.Marks[lit-1].Offset) / span
		return base + clamp01(frac)/float64(total)
	}

	duration := defaultLineDuration
	if next != nil {
		duration = next.Start - line.Start
	}
	if duration <= 0 {
		return 1
	}
	return clamp01(relative / duration)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
