package ni660x

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nasa-jpl/ni660x/counter"
)

// ErrUnknownChannel is returned by the mock for channels it was not created with
var ErrUnknownChannel = errors.New("ni660x: unknown channel")

type mockChannel struct {
	enabled bool
	running bool
	target  int
	data    []float64
}

// Mock is an in-memory counter card.  By default samples only appear when
// Produce is called; with Simulate set, StartChannels spawns a producer that
// emits one sample per high time until the requested count is reached.
type Mock struct {
	sync.Mutex

	// Simulate makes started channels produce samples on their own
	Simulate bool

	// Counts is the increment of the simulated counter per sample
	Counts float64

	calls  map[string]int
	chans  map[string]*mockChannel
	cancel chan struct{}
	fail   map[string]error
}

var _ counter.Remote = (*Mock)(nil)

// NewMock creates a mock card with the given channels
func NewMock(names ...string) *Mock {
	m := &Mock{
		Counts: 1,
		calls:  make(map[string]int),
		chans:  make(map[string]*mockChannel),
		fail:   make(map[string]error),
	}
	for _, n := range names {
		m.chans[n] = &mockChannel{}
	}
	return m
}

// FailOn makes every later call of op return err; a nil err clears it
func (m *Mock) FailOn(op string, err error) {
	m.Lock()
	defer m.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// Produce appends samples to a channel as if the card had counted them.
// Reaching the requested count of a started channel finishes it.
func (m *Mock) Produce(name string, values ...float64) {
	m.Lock()
	defer m.Unlock()
	ch, ok := m.chans[name]
	if !ok {
		return
	}
	ch.data = append(ch.data, values...)
	if ch.target > 0 && len(ch.data) >= ch.target {
		ch.running = false
	}
}

// Finish marks a channel as done without producing anything
func (m *Mock) Finish(name string) {
	m.Lock()
	defer m.Unlock()
	if ch, ok := m.chans[name]; ok {
		ch.running = false
	}
}

// Enabled returns true if the channel was enabled
func (m *Mock) Enabled(name string) bool {
	m.Lock()
	defer m.Unlock()
	ch, ok := m.chans[name]
	return ok && ch.enabled
}

// Count returns the number of times op was called
func (m *Mock) Count(op string) int {
	m.Lock()
	defer m.Unlock()
	return m.calls[op]
}

// enter counts a call and returns the injected failure, if any.  The lock is held.
func (m *Mock) enter(op string) error {
	m.calls[op]++
	if err, ok := m.fail[op]; ok {
		return &counter.RemoteError{Op: op, Err: err}
	}
	return nil
}

func (m *Mock) channel(op, name string) (*mockChannel, error) {
	ch, ok := m.chans[name]
	if !ok {
		return nil, &counter.RemoteError{Op: op, Err: fmt.Errorf("%w: %s", ErrUnknownChannel, name)}
	}
	return ch, nil
}

// IsChannelDone returns true once a started channel has its samples
func (m *Mock) IsChannelDone(name string) (bool, error) {
	m.Lock()
	defer m.Unlock()
	if err := m.enter(opIsChannelDone); err != nil {
		return false, err
	}
	ch, err := m.channel(opIsChannelDone, name)
	if err != nil {
		return false, err
	}
	return !ch.running, nil
}

// SetChannelsEnabled enables or disables channels
func (m *Mock) SetChannelsEnabled(names []string, enabled bool) error {
	m.Lock()
	defer m.Unlock()
	if err := m.enter(opSetChannelsEnabled); err != nil {
		return err
	}
	for _, n := range names {
		ch, err := m.channel(opSetChannelsEnabled, n)
		if err != nil {
			return err
		}
		ch.enabled = enabled
	}
	return nil
}

// StopChannels stops channels and any simulated producer
func (m *Mock) StopChannels(names []string) error {
	m.Lock()
	defer m.Unlock()
	if err := m.enter(opStopChannels); err != nil {
		return err
	}
	for _, n := range names {
		ch, err := m.channel(opStopChannels, n)
		if err != nil {
			return err
		}
		ch.running = false
	}
	if m.cancel != nil {
		close(m.cancel)
		m.cancel = nil
	}
	return nil
}

// StartChannels starts channels.  Data of earlier starts is kept, so sample
// indices keep growing across sub-scans.
func (m *Mock) StartChannels(names []string, samples int, highTime float64) error {
	m.Lock()
	defer m.Unlock()
	if err := m.enter(opStartChannels); err != nil {
		return err
	}
	for _, n := range names {
		ch, err := m.channel(opStartChannels, n)
		if err != nil {
			return err
		}
		if !ch.enabled {
			return &counter.RemoteError{Op: opStartChannels, Err: fmt.Errorf("channel %s is not enabled", n)}
		}
		ch.running = true
		ch.target = len(ch.data) + samples
	}
	if m.Simulate {
		m.cancel = make(chan struct{})
		go m.produce(names, samples, highTime, m.cancel)
	}
	return nil
}

// produce emits one sample per high time on every channel
func (m *Mock) produce(names []string, samples int, highTime float64, cancel chan struct{}) {
	period := time.Duration(highTime * float64(time.Second))
	if period < time.Millisecond {
		period = time.Millisecond
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for i := 0; i < samples; i++ {
		select {
		case <-t.C:
			m.Lock()
			for _, n := range names {
				ch := m.chans[n]
				var last float64
				if len(ch.data) > 0 {
					last = ch.data[len(ch.data)-1]
				}
				ch.data = append(ch.data, last+m.Counts)
				if len(ch.data) >= ch.target {
					ch.running = false
				}
			}
			m.Unlock()
		case <-cancel:
			return
		}
	}
}

// SamplesReady returns the number of samples a channel holds
func (m *Mock) SamplesReady(name string) (int, error) {
	m.Lock()
	defer m.Unlock()
	if err := m.enter(opSamplesReady); err != nil {
		return 0, err
	}
	ch, err := m.channel(opSamplesReady, name)
	if err != nil {
		return 0, err
	}
	return len(ch.data), nil
}

// ChannelData returns a copy of the samples in [from, to), clipped to what exists
func (m *Mock) ChannelData(name string, from, to int) ([]float64, error) {
	m.Lock()
	defer m.Unlock()
	if err := m.enter(opChannelData); err != nil {
		return nil, err
	}
	ch, err := m.channel(opChannelData, name)
	if err != nil {
		return nil, err
	}
	if from < 0 {
		from = 0
	}
	if to > len(ch.data) {
		to = len(ch.data)
	}
	if from >= to {
		return []float64{}, nil
	}
	out := make([]float64, to-from)
	copy(out, ch.data[from:to])
	return out, nil
}
