package lyrics

// Locate returns the index of the line active at the given adjusted time:
// the rightmost line whose start is <= at. Returns -1 when the timeline has
// no lines or the time precedes the first line. When several lines share a
// start time the rightmost wins; equal-time lines are a data anomaly, not a
// contract.
func (t *Timeline) Locate(at float64) int {
	if t == nil || len(t.Lines) == 0 || at < t.Lines[0].Start {
		return -1
	}

	left, right := 0, len(t.Lines)-1
	result := -1
	for left <= right {
		mid := (left + right) / 2
		if t.Lines[mid].Start <= at {
			result = mid
			left = mid + 1
		} else {
			right = mid - 1
		}
	}
	return result
}
