// Package stats implements the per-axis dwell-time tracker and the
// engine-wide event counters (C8). Ported from core/stats.py, with two
// corrections documented in SPEC_FULL.md §4: the summary snapshot uses
// the total_us/avg_us key names spec.md §6 documents (the Python source
// is inconsistently named total_ts/avg_ts), and Finalize closes all four
// dwell trackers including sanitization.
package stats

// Dwell tracks cumulative time spent in each label of one state-machine
// axis, plus per-label entry counts.
type Dwell struct {
	current string
	enterUs int64
	totalUs map[string]int64
	entries map[string]int64
}

// NewDwell returns a Dwell starting in the given label at enterUs.
func NewDwell(initial string, enterUs int64) *Dwell {
	return &Dwell{
		current: initial,
		enterUs: enterUs,
		totalUs: make(map[string]int64),
		entries: make(map[string]int64),
	}
}

// Switch is a no-op if newLabel equals the current label; otherwise it
// accumulates dwell time into the outgoing label, increments its entry
// count, and begins tracking newLabel from nowUs.
func (d *Dwell) Switch(newLabel string, nowUs int64) {
	if newLabel == d.current {
		return
	}
	d.accumulate(nowUs)
	d.entries[d.current]++
	d.current = newLabel
	d.enterUs = nowUs
}

// Close flushes the currently-occupied label's dwell time up to nowUs and
// counts the closing span as an entry, matching Switch.
func (d *Dwell) Close(nowUs int64) {
	d.accumulate(nowUs)
	d.entries[d.current]++
	d.enterUs = nowUs
}

func (d *Dwell) accumulate(nowUs int64) {
	delta := nowUs - d.enterUs
	if delta < 0 {
		delta = 0
	}
	d.totalUs[d.current] += delta
}

// Snapshot returns {total_us, avg_us} maps keyed by label.
func (d *Dwell) Snapshot() (totalUs map[string]int64, avgUs map[string]float64) {
	totalUs = make(map[string]int64, len(d.totalUs))
	avgUs = make(map[string]float64, len(d.totalUs))
	for label, total := range d.totalUs {
		totalUs[label] = total
		n := d.entries[label]
		if n == 0 {
			n = 1
		}
		avgUs[label] = float64(total) / float64(n)
	}
	return totalUs, avgUs
}
