package gateway

// replayWindow is the number of recently processed sequence numbers,
// per source address, the replay filter remembers.
const replayWindow = 128

// seqTracker enforces per-source sequence monotonicity: a frame is
// accepted only when its sequence number is a forward step of at most
// 128 modulo 256 past the previous one. A step that crosses the
// 255-to-0 boundary is accepted and flagged as a wrap; repeats and
// backward steps are replays and rejected.
type seqTracker struct {
	last    map[byte]byte
	known   map[byte]bool
	history map[byte]map[byte]bool // src -> recently accepted seq numbers
}

func newSeqTracker() *seqTracker {
	return &seqTracker{
		last:    make(map[byte]byte),
		known:   make(map[byte]bool),
		history: make(map[byte]map[byte]bool),
	}
}

// accept reports whether seq from src represents forward progress
// (possibly via wraparound) that should be processed, as opposed to a
// replay that should be dropped.
func (t *seqTracker) accept(src, seq byte) (wrapped bool, ok bool) {
	hist := t.history[src]
	if hist == nil {
		hist = make(map[byte]bool, replayWindow)
		t.history[src] = hist
	}

	if !t.known[src] {
		t.known[src] = true
		t.last[src] = seq
		hist[seq] = true
		return false, true
	}

	last := t.last[src]
	delta := int(seq) - int(last)
	if delta < 0 {
		delta += 256
	}

	// delta is the forward step modulo 256. Zero is an exact repeat of
	// the last frame; a step beyond half the sequence space is a stale
	// number coming back around. Both are replays.
	if delta == 0 || delta > 128 {
		return false, false
	}
	if hist[seq] {
		return false, false
	}

	// A forward step that lands at a numerically lower value crossed
	// 255 back to 0. Only that rollover counts as a wrap; a plain
	// increment must not inflate the wrap statistic.
	wrapped = seq < last

	t.last[src] = seq
	hist[seq] = true
	// Forget numbers that have fallen replayWindow or more steps behind
	// seq, so the history holds only the recent window and a number
	// reused after a full wraparound is not mistaken for a replay.
	for k := range hist {
		if seq-k >= replayWindow {
			delete(hist, k)
		}
	}
	return wrapped, true
}
