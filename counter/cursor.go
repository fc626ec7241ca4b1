package counter

// cursor is the read state of one armed channel
type cursor struct {
	// lastIndexRead is the index of the last consumed sample, -1 for none
	lastIndexRead int

	// delivered marks that the single sample of a one-sample run went out.
	// One-sample runs never advance lastIndexRead.
	delivered bool
}

// Tracker holds the per channel read cursors, the encoder references used by
// position capture, and the readiness computed on the last poll
type Tracker struct {
	cursors       map[string]*cursor
	refs          map[string]float64
	newIndexReady int

	// baseline is the highest index produced by earlier starts.  A one-sample
	// run only delivers an index above it.
	baseline int
}

// NewTracker returns an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		cursors:       make(map[string]*cursor),
		refs:          make(map[string]float64),
		newIndexReady: -1,
		baseline:      -1,
	}
}

// Reset forgets every cursor and encoder reference
func (t *Tracker) Reset() {
	t.cursors = make(map[string]*cursor)
	t.refs = make(map[string]float64)
	t.newIndexReady = -1
	t.baseline = -1
}

// Rewind puts every cursor back to "nothing consumed" and retires the indices
// seen so far, so a read before the next poll serves nothing.  Encoder
// references survive; they live for the whole session.
func (t *Tracker) Rewind() {
	for _, c := range t.cursors {
		c.lastIndexRead = -1
		c.delivered = false
	}
	if t.newIndexReady > t.baseline {
		t.baseline = t.newIndexReady
	}
	t.newIndexReady = t.baseline
}

// Rebase records the ready counts the card holds before a start.  Those
// samples belong to earlier starts and are never delivered by a one-sample
// run.
func (t *Tracker) Rebase(counts []int) {
	t.SetReady(counts)
	t.baseline = t.newIndexReady
}

// Baseline returns the highest index that belongs to earlier starts
func (t *Tracker) Baseline() int {
	return t.baseline
}

// Arm creates or rewinds the cursor of a channel
func (t *Tracker) Arm(name string) {
	c, ok := t.cursors[name]
	if !ok {
		c = &cursor{}
		t.cursors[name] = c
	}
	c.lastIndexRead = -1
	c.delivered = false
}

// LastIndexRead returns the cursor of a channel
func (t *Tracker) LastIndexRead(name string) (int, bool) {
	c, ok := t.cursors[name]
	if !ok {
		return -1, false
	}
	return c.lastIndexRead, true
}

// NewIndexReady returns the highest index ready on every polled channel
func (t *Tracker) NewIndexReady() int {
	return t.newIndexReady
}

// SetReady records the ready counts of one poll.  The slowest channel wins so
// no channel is read ahead of the others.
func (t *Tracker) SetReady(counts []int) {
	if len(counts) == 0 {
		t.newIndexReady = -1
		return
	}
	min := counts[0]
	for _, c := range counts[1:] {
		if c < min {
			min = c
		}
	}
	t.newIndexReady = min - 1
}

// window returns the half-open index range to fetch for a channel.
// ok is false when there is nothing new.
//
// With sampleCount == 1 (sub-scans and single sample bursts) the cursor never
// moves: the newest ready sample above the baseline is delivered once, as a
// width-1 read, and Arm or Rewind make the channel deliverable again.
func (t *Tracker) window(name string, sampleCount int) (from, to int, ok bool) {
	c := t.cursors[name]
	if sampleCount == 1 {
		if c.delivered || t.newIndexReady <= t.baseline {
			return 0, 0, false
		}
		return t.newIndexReady, t.newIndexReady + 1, true
	}
	if t.newIndexReady <= c.lastIndexRead {
		return 0, 0, false
	}
	return c.lastIndexRead + 1, t.newIndexReady + 1, true
}

// consume records n fetched samples
func (t *Tracker) consume(name string, sampleCount, n int) {
	if n == 0 {
		return
	}
	c := t.cursors[name]
	if sampleCount == 1 {
		c.delivered = true
		return
	}
	c.lastIndexRead += n
}

// Reference returns the first encoder value captured for a channel
func (t *Tracker) Reference(name string) (float64, bool) {
	f, ok := t.refs[name]
	return f, ok
}

// captureReference stores the reference once per session
func (t *Tracker) captureReference(name string, v float64) float64 {
	if f, ok := t.refs[name]; ok {
		return f
	}
	t.refs[name] = v
	return v
}

// behind returns true if any cursor has not reached sampleCount-1
func (t *Tracker) behind(names []string, sampleCount int) bool {
	for _, n := range names {
		c, ok := t.cursors[n]
		if ok && c.lastIndexRead+1 < sampleCount {
			return true
		}
	}
	return false
}
