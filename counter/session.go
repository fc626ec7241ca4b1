package counter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// SyncMode is the synchronization of an acquisition.  The values follow the
// numbering used by Sardana's AcqSynch.
type SyncMode int

const (
	// SoftwareTrigger starts each sample from software
	SoftwareTrigger SyncMode = iota
	// HardwareTrigger starts each sample from an external trigger
	HardwareTrigger
	// SoftwareGate gates each sample from software
	SoftwareGate
	// HardwareGate gates each sample with an external signal
	HardwareGate
	// SoftwareStart starts the whole acquisition from software
	SoftwareStart
	// HardwareStart starts the whole acquisition from an external trigger
	HardwareStart
)

var syncNames = map[SyncMode]string{
	SoftwareTrigger: "SoftwareTrigger",
	HardwareTrigger: "HardwareTrigger",
	SoftwareGate:    "SoftwareGate",
	HardwareGate:    "HardwareGate",
	SoftwareStart:   "SoftwareStart",
	HardwareStart:   "HardwareStart",
}

func (m SyncMode) String() string {
	if s, ok := syncNames[m]; ok {
		return s
	}
	return "SyncMode(" + strconv.Itoa(int(m)) + ")"
}

// Hardware returns true for the externally timed modes this controller supports
func (m SyncMode) Hardware() bool {
	return m == HardwareGate || m == HardwareStart || m == HardwareTrigger
}

// ParseSyncMode accepts a mode name, case insensitive, or its number
func ParseSyncMode(s string) (SyncMode, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		m := SyncMode(i)
		if _, ok := syncNames[m]; ok {
			return m, nil
		}
	}
	for m, name := range syncNames {
		if strings.EqualFold(name, s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("synchronization %q: %w", s, ErrInvalidValue)
}

// MarshalJSON encodes the mode by name
func (m SyncMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes a mode from its name or number
func (m *SyncMode) UnmarshalJSON(b []byte) error {
	var i int
	if err := json.Unmarshal(b, &i); err == nil {
		parsed, err := ParseSyncMode(strconv.Itoa(i))
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseSyncMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Mode is the acquisition mode of a session
type Mode int

const (
	// SingleBurst acquires all repetitions from one hardware start
	SingleBurst Mode = iota
	// RepeatedSubScan acquires one sample per start, many starts
	RepeatedSubScan
)

func (m Mode) String() string {
	if m == RepeatedSubScan {
		return "RepeatedSubScan"
	}
	return "SingleBurst"
}

// MarshalJSON encodes the mode by name
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// State is a state of the acquisition state machine
type State int

const (
	// Idle is the initial state and the state after Abort
	Idle State = iota
	// Configuring follows Configure and Load
	Configuring
	// Armed follows Arm
	Armed
	// Running follows Start, while samples are still expected
	Running
	// Draining is a started session with every expected sample accounted for
	Draining
	// Error follows a failed Start
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Configuring:
		return "Configuring"
	case Armed:
		return "Armed"
	case Running:
		return "Running"
	case Draining:
		return "Draining"
	case Error:
		return "Error"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// MarshalJSON encodes the state by name
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Acquisition is the request of one Configure call
type Acquisition struct {
	// Sync is the synchronization mode, must be hardware timed
	Sync SyncMode `json:"synchronization"`

	// Repetitions is the number of samples of a single burst
	Repetitions int `json:"repetitions"`

	// HighTime is the gate (integration) time in seconds
	HighTime float64 `json:"highTime"`

	// Starts is the number of hardware starts; more than one means sub-scans
	Starts int `json:"starts"`
}

// Reading is the result of reading one channel
type Reading struct {
	// Channel is the channel name
	Channel string `json:"channel"`

	// First is the index of the first value, -1 when Values is empty
	First int `json:"first"`

	// Values are the new samples, transformed when position capture is on
	Values []float64 `json:"values"`

	// Warning is set when the position formula failed and Values hold the
	// untransformed displacement
	Warning error `json:"-"`
}

// ConfigSource provides channel configuration by name; *Registry is one
type ConfigSource interface {
	Config(name string) ChannelConfig
}

// Session is the acquisition state machine.  It is not concurrent safe; a
// single controlling goroutine drives it.
type Session struct {
	remote    Remote
	configs   ConfigSource
	transform *Transform
	tracker   *Tracker
	log       *slog.Logger

	state    State
	mode     Mode
	samples  int
	highTime float64
	armed    []Channel
	started  bool
	stopped  bool
}

// NewSession returns an idle session.  A nil logger uses slog.Default.
func NewSession(remote Remote, configs ConfigSource, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		remote:    remote,
		configs:   configs,
		transform: NewTransform(),
		tracker:   NewTracker(),
		log:       log,
		samples:   1,
	}
}

// State returns the current state
func (s *Session) State() State {
	return s.state
}

// Mode returns the acquisition mode
func (s *Session) Mode() Mode {
	return s.mode
}

// SampleCount returns the number of samples a start acquires
func (s *Session) SampleCount() int {
	return s.samples
}

// HighTime returns the gate time in seconds
func (s *Session) HighTime() float64 {
	return s.highTime
}

// Stopped returns true after Abort, until the next Configure
func (s *Session) Stopped() bool {
	return s.stopped
}

// Armed returns the armed channels in arming order
func (s *Session) Armed() []Channel {
	out := make([]Channel, len(s.armed))
	copy(out, s.armed)
	return out
}

// Tracker exposes the read cursors, read only by convention
func (s *Session) Tracker() *Tracker {
	return s.tracker
}

func (s *Session) armedNames() []string {
	names := make([]string, len(s.armed))
	for i, c := range s.armed {
		names[i] = c.Name
	}
	return names
}

func (s *Session) isArmed(name string) bool {
	for _, c := range s.armed {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Configure starts a new acquisition cycle.  A non hardware synchronization
// is rejected and leaves the session untouched.
func (s *Session) Configure(acq Acquisition) error {
	if !acq.Sync.Hardware() {
		return fmt.Errorf("%s: %w", acq.Sync, ErrUnsupportedSynchronization)
	}
	starts := acq.Starts
	if starts < 1 {
		starts = 1
	}
	if starts == 1 && acq.Repetitions < 1 {
		return fmt.Errorf("repetitions=%d: %w", acq.Repetitions, ErrInvalidValue)
	}

	s.armed = nil
	s.tracker.Reset()
	s.highTime = acq.HighTime
	s.started = false
	s.stopped = false
	if starts > 1 {
		s.mode = RepeatedSubScan
		s.samples = 1
	} else {
		s.mode = SingleBurst
		s.samples = acq.Repetitions
	}
	s.state = Configuring
	s.log.Debug("configured acquisition", "sync", acq.Sync, "mode", s.mode,
		"samples", s.samples, "highTime", s.highTime, "starts", starts)
	return nil
}

// Load prepares the next sub-scan.  It does nothing outside RepeatedSubScan.
func (s *Session) Load(highTime float64) error {
	if s.mode != RepeatedSubScan {
		return nil
	}
	if s.state == Idle || s.state == Error {
		return fmt.Errorf("load in state %s: %w", s.state, ErrNotConfigured)
	}
	s.tracker.Rewind()
	s.samples = 1
	s.highTime = highTime
	s.state = Configuring
	return nil
}

// Arm registers a channel for the run.  In SingleBurst mode arming after the
// first Start is a no-op so the framework may arm on every step.
func (s *Session) Arm(ch Channel) error {
	if s.state == Idle || s.state == Error {
		return fmt.Errorf("arm %s in state %s: %w", ch.Name, s.state, ErrNotConfigured)
	}
	if s.mode == SingleBurst && s.started {
		return nil
	}
	s.tracker.Arm(ch.Name)
	if !s.started && !s.isArmed(ch.Name) {
		s.armed = append(s.armed, ch)
	}
	s.state = Armed
	return nil
}

// Start starts counting on the armed channels.  The first start of a session
// enables the channels; later starts re-trigger only in RepeatedSubScan mode.
// Before each sub-scan start the ready counts of the card are recorded, so
// samples of earlier sub-scans are never delivered again.
func (s *Session) Start() error {
	switch s.state {
	case Idle, Error, Configuring:
		return fmt.Errorf("start in state %s: %w", s.state, ErrInvalidTransition)
	}
	if len(s.armed) == 0 {
		return ErrNothingArmed
	}
	if s.mode == SingleBurst && s.started {
		return nil
	}
	names := s.armedNames()
	if !s.started {
		if err := s.remote.SetChannelsEnabled(names, true); err != nil {
			s.state = Error
			return err
		}
	}
	if err := s.remote.StopChannels(names); err != nil {
		s.state = Error
		return err
	}
	if s.mode == RepeatedSubScan {
		counts, err := s.readyCounts()
		if err != nil {
			s.state = Error
			return err
		}
		s.tracker.Rebase(counts)
	}
	if err := s.remote.StartChannels(names, s.samples, s.highTime); err != nil {
		s.state = Error
		return err
	}
	s.started = true
	s.state = Running
	return nil
}

// Poll queries the readiness of every armed channel and returns the new
// highest index ready on all of them
func (s *Session) Poll() (int, error) {
	if s.stopped || len(s.armed) == 0 {
		return s.tracker.NewIndexReady(), nil
	}
	counts, err := s.readyCounts()
	if err != nil {
		return s.tracker.NewIndexReady(), err
	}
	s.tracker.SetReady(counts)
	s.refreshState()
	return s.tracker.NewIndexReady(), nil
}

// readyCounts asks the card how many samples each armed channel holds
func (s *Session) readyCounts() ([]int, error) {
	counts := make([]int, len(s.armed))
	for i, c := range s.armed {
		n, err := s.remote.SamplesReady(c.Name)
		if err != nil {
			return nil, err
		}
		counts[i] = n
	}
	return counts, nil
}

// Read returns the samples of a channel that became ready since its last read.
// An empty reading is not an error.  The cursor only moves after the remote
// returned the data.
func (s *Session) Read(name string) (Reading, error) {
	rd := Reading{Channel: name, First: -1, Values: []float64{}}
	if s.stopped || s.state == Idle {
		return rd, nil
	}
	if _, ok := s.tracker.LastIndexRead(name); !ok {
		return rd, fmt.Errorf("%s: %w", name, ErrNotArmed)
	}
	from, to, ok := s.tracker.window(name, s.samples)
	if !ok {
		return rd, nil
	}
	raw, err := s.remote.ChannelData(name, from, to)
	if err != nil {
		return rd, err
	}
	if len(raw) > to-from {
		s.log.Warn("remote returned more samples than requested",
			"channel", name, "from", from, "to", to, "got", len(raw))
		raw = raw[:to-from]
	}
	s.tracker.consume(name, s.samples, len(raw))
	s.refreshState()
	if len(raw) == 0 {
		return rd, nil
	}
	rd.First = from
	rd.Values = raw

	cfg := s.configs.Config(name)
	if cfg.PositionCapture {
		ref := s.tracker.captureReference(name, raw[0])
		vals, err := s.transform.Apply(name, cfg, ref, raw)
		if err != nil {
			rd.Warning = err
		}
		rd.Values = vals
	}
	s.log.Debug("read channel", "channel", name, "from", from, "to", to,
		"newIndexReady", s.tracker.NewIndexReady(), "n", len(rd.Values))
	return rd, nil
}

// refreshState moves a started session between Running and Draining
func (s *Session) refreshState() {
	if s.state != Running && s.state != Draining {
		return
	}
	if s.mode == SingleBurst && s.samples > 1 && s.tracker.behind(s.armedNames(), s.samples) {
		s.state = Running
		return
	}
	s.state = Draining
}

// Abort stops every armed channel and forces the session to Idle.  It is safe
// in any state.  Samples not read yet are discarded.
func (s *Session) Abort() error {
	var err error
	if len(s.armed) > 0 {
		err = s.remote.StopChannels(s.armedNames())
	}
	s.stopped = true
	s.state = Idle
	return err
}

// Snapshot is a point in time view of a session
type Snapshot struct {
	State         State          `json:"state"`
	Mode          Mode           `json:"mode"`
	SampleCount   int            `json:"sampleCount"`
	HighTime      float64        `json:"highTime"`
	Armed         []string       `json:"armed"`
	Started       bool           `json:"started"`
	Stopped       bool           `json:"stopped"`
	NewIndexReady int            `json:"newIndexReady"`
	LastIndexRead map[string]int `json:"lastIndexRead"`
}

// Snapshot returns the current view of the session
func (s *Session) Snapshot() Snapshot {
	last := make(map[string]int, len(s.armed))
	for _, c := range s.armed {
		i, _ := s.tracker.LastIndexRead(c.Name)
		last[c.Name] = i
	}
	return Snapshot{
		State:         s.state,
		Mode:          s.mode,
		SampleCount:   s.samples,
		HighTime:      s.highTime,
		Armed:         s.armedNames(),
		Started:       s.started,
		Stopped:       s.stopped,
		NewIndexReady: s.tracker.NewIndexReady(),
		LastIndexRead: last,
	}
}
