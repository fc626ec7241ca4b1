// Package ctrl adapts the counter acquisition engine to the lifecycle of a
// Sardana style counter/timer controller.
//
// The host framework calls, for every acquisition,
//
//	PrepareOne (each axis) -> [LoadOne -> PreStartOne (each axis) -> StartAll
//	-> ReadAll/ReadOne/StateOne until Ready] x starts
//
// and AbortAll or StopAll at any time.  A Controller is concurrent safe; the
// HTTP layer and the framework may share one.
package ctrl

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/nasa-jpl/ni660x/counter"
	"github.com/nasa-jpl/ni660x/ni660x"
)

// DefaultLatencyTime is the latency time reported when none is configured, s
const DefaultLatencyTime = 2.5e-6

// Controller parameters known by GetCtrlPar and SetCtrlPar
const (
	ParSynchronization = "synchronization"
	ParLatencyTime     = "latency_time"
)

// Config holds the controller properties
type Config struct {
	// Name labels the metrics and logs of the controller
	Name string

	// Host is the host of the counter service
	Host string

	// Port is the port of the counter service, ni660x.DefaultPort when zero
	Port int

	// ChannelNames is a comma separated list of the card's channel names;
	// axis n is the n-th name
	ChannelNames string

	// LatencyTime is the controller latency time in seconds
	LatencyTime float64

	// Synchronization is the initial synchronization mode
	Synchronization counter.SyncMode

	// Debug logs every call to the counter service
	Debug bool
}

// Controller is one counter/timer controller
type Controller struct {
	sync.Mutex

	name     string
	registry *counter.Registry
	session  *counter.Session
	log      *slog.Logger
	latency  float64
	sync     counter.SyncMode

	// history holds the samples delivered by ReadOne in the current run
	history map[int][]float64

	metrics *Metrics
}

// Connect dials (or reuses) the counter service of cfg and returns a
// controller over it.  A service that can not be reached is an error; the
// controller is not usable without it.
func Connect(cfg Config, log *slog.Logger) (*Controller, error) {
	if log == nil {
		log = slog.Default()
	}
	addr := ni660x.Address(cfg.Host, cfg.Port)
	client, err := ni660x.Get(addr, log)
	if err != nil {
		log.Error("can not connect to counter service", "addr", addr, "err", err)
		return nil, err
	}
	if cfg.Debug {
		client.SetDebug(true)
	}
	log.Debug("connected", "addr", addr)
	return New(cfg, client, log), nil
}

// New returns a controller over an existing remote
func New(cfg Config, remote counter.Remote, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Name != "" {
		log = log.With("controller", cfg.Name)
	}
	latency := cfg.LatencyTime
	if latency == 0 {
		latency = DefaultLatencyTime
	}
	reg := counter.NewRegistry(counter.ParseChannelNames(cfg.ChannelNames))
	c := &Controller{
		name:     cfg.Name,
		registry: reg,
		session:  counter.NewSession(remote, reg, log),
		log:      log,
		latency:  latency,
		sync:     cfg.Synchronization,
		history:  make(map[int][]float64),
	}
	c.metrics = newMetrics(cfg.Name, func() float64 {
		c.Lock()
		defer c.Unlock()
		return float64(c.session.Tracker().NewIndexReady())
	})
	return c
}

// Name returns the configured controller name
func (c *Controller) Name() string {
	return c.name
}

// Metrics returns the prometheus collectors of the controller
func (c *Controller) Metrics() *Metrics {
	return c.metrics
}

// ChannelNames returns the channel names, in axis order
func (c *Controller) ChannelNames() []string {
	c.Lock()
	defer c.Unlock()
	return c.registry.Names()
}

// Axes returns the added axes
func (c *Controller) Axes() []int {
	c.Lock()
	defer c.Unlock()
	return c.registry.Axes()
}

// AddDevice creates the channel behind axis with default extra parameters
func (c *Controller) AddDevice(axis int) error {
	c.Lock()
	defer c.Unlock()
	ch, err := c.registry.Add(axis)
	if err != nil {
		return err
	}
	c.log.Debug("added device", "axis", axis, "channel", ch.Name)
	return nil
}

// DeleteDevice forgets axis
func (c *Controller) DeleteDevice(axis int) {
	c.Lock()
	defer c.Unlock()
	c.registry.Remove(axis)
	delete(c.history, axis)
}

// PrepareOne configures the acquisition with the controller synchronization.
// value is the high time in seconds.  The run history is cleared.
func (c *Controller) PrepareOne(axis int, value float64, repetitions int, latency float64, starts int) error {
	c.Lock()
	defer c.Unlock()
	if _, err := c.registry.Get(axis); err != nil {
		return err
	}
	err := c.session.Configure(counter.Acquisition{
		Sync:        c.sync,
		Repetitions: repetitions,
		HighTime:    value,
		Starts:      starts,
	})
	if err != nil {
		return err
	}
	c.history = make(map[int][]float64)
	return nil
}

// LoadOne prepares the next sub-scan; it does nothing for single bursts
func (c *Controller) LoadOne(axis int, value float64, repetitions int, latency float64) error {
	c.Lock()
	defer c.Unlock()
	if _, err := c.registry.Get(axis); err != nil {
		return err
	}
	return c.session.Load(value)
}

// PreStartOne arms axis.  The boolean is always true on success.
func (c *Controller) PreStartOne(axis int, value float64) (bool, error) {
	c.Lock()
	defer c.Unlock()
	ch, err := c.registry.Get(axis)
	if err != nil {
		return false, err
	}
	if err := c.session.Arm(ch); err != nil {
		return false, err
	}
	return true, nil
}

// StartAll starts the armed channels
func (c *Controller) StartAll() error {
	c.Lock()
	defer c.Unlock()
	if err := c.session.Start(); err != nil {
		c.metrics.observe(err)
		c.log.Error("start failed", "err", err)
		return err
	}
	c.metrics.Starts.Inc()
	return nil
}

// ReadAll polls the readiness of the armed channels
func (c *Controller) ReadAll() error {
	c.Lock()
	defer c.Unlock()
	_, err := c.session.Poll()
	if err != nil {
		c.metrics.observe(err)
		c.log.Error("ReadAll failed", "err", err)
	}
	return err
}

// ReadOne returns the new samples of axis, possibly none
func (c *Controller) ReadOne(axis int) ([]float64, error) {
	c.Lock()
	defer c.Unlock()
	ch, err := c.registry.Get(axis)
	if err != nil {
		return nil, err
	}
	last, _ := c.session.Tracker().LastIndexRead(ch.Name)
	c.log.Debug("ReadOne", "axis", axis, "new", c.session.Tracker().NewIndexReady(), "last", last)
	rd, err := c.session.Read(ch.Name)
	if err != nil {
		c.metrics.observe(err)
		c.log.Error("ReadOne failed", "axis", axis, "err", err)
		return nil, err
	}
	if rd.Warning != nil {
		c.metrics.TransformFailures.WithLabelValues(ch.Name).Inc()
		c.log.Warn("ReadOne can not apply the formula, returning displacement", "axis", axis, "err", rd.Warning)
	}
	if n := len(rd.Values); n > 0 {
		c.metrics.SamplesRead.WithLabelValues(ch.Name).Add(float64(n))
		c.history[axis] = append(c.history[axis], rd.Values...)
	}
	return rd.Values, nil
}

// StateOne reports the state of axis and a human readable status
func (c *Controller) StateOne(axis int) (counter.AxisState, string, error) {
	c.Lock()
	defer c.Unlock()
	ch, err := c.registry.Get(axis)
	if err != nil {
		return counter.Ready, "", err
	}
	state, status, err := c.session.Status(ch.Name)
	if err != nil {
		c.metrics.observe(err)
		return state, status, err
	}
	c.log.Debug("StateOne", "axis", axis, "state", state, "status", status)
	return state, status, nil
}

// GetAxisExtraPar returns position_capture, position_start or position_formula
func (c *Controller) GetAxisExtraPar(axis int, name string) (interface{}, error) {
	c.Lock()
	defer c.Unlock()
	return c.registry.Query(axis, name)
}

// SetAxisExtraPar sets position_capture, position_start or position_formula
func (c *Controller) SetAxisExtraPar(axis int, name string, value interface{}) error {
	c.Lock()
	defer c.Unlock()
	return c.registry.Configure(axis, name, value)
}

// GetCtrlPar returns a controller parameter
func (c *Controller) GetCtrlPar(name string) (interface{}, error) {
	c.Lock()
	defer c.Unlock()
	switch name {
	case ParSynchronization:
		return c.sync, nil
	case ParLatencyTime:
		return c.latency, nil
	}
	return nil, fmt.Errorf("%s: %w", name, counter.ErrUnknownParameter)
}

// SetCtrlPar sets the synchronization.  It accepts a SyncMode, its number or
// its name.  The latency time is read only.
func (c *Controller) SetCtrlPar(name string, value interface{}) error {
	c.Lock()
	defer c.Unlock()
	switch name {
	case ParSynchronization:
		var (
			m   counter.SyncMode
			err error
		)
		switch v := value.(type) {
		case counter.SyncMode:
			m = v
		case int:
			m, err = counter.ParseSyncMode(strconv.Itoa(v))
		case float64:
			m, err = counter.ParseSyncMode(strconv.Itoa(int(v)))
		case string:
			m, err = counter.ParseSyncMode(v)
		default:
			err = fmt.Errorf("synchronization %v: %w", value, counter.ErrInvalidValue)
		}
		if err != nil {
			return err
		}
		c.sync = m
		return nil
	case ParLatencyTime:
		return fmt.Errorf("%s is read only: %w", name, counter.ErrInvalidValue)
	}
	return fmt.Errorf("%s: %w", name, counter.ErrUnknownParameter)
}

// AbortOne does nothing; aborting is done for all channels by AbortAll
func (c *Controller) AbortOne(axis int) {
	c.log.Debug("abort", "axis", axis)
}

// AbortAll stops every armed channel.  The controller reports Ready from now
// on even if the card has not stopped.
func (c *Controller) AbortAll() error {
	c.Lock()
	defer c.Unlock()
	err := c.session.Abort()
	if err != nil {
		c.metrics.observe(err)
		c.log.Error("abort failed", "err", err)
	}
	return err
}

// StopAll is AbortAll
func (c *Controller) StopAll() error {
	return c.AbortAll()
}

// Status is a point in time view of the controller
type Status struct {
	Name            string           `json:"name"`
	Synchronization counter.SyncMode `json:"synchronization"`
	LatencyTime     float64          `json:"latencyTime"`
	Session         counter.Snapshot `json:"session"`
}

// Status returns the current view of the controller
func (c *Controller) Status() Status {
	c.Lock()
	defer c.Unlock()
	return Status{
		Name:            c.name,
		Synchronization: c.sync,
		LatencyTime:     c.latency,
		Session:         c.session.Snapshot(),
	}
}

// History returns a copy of the samples ReadOne delivered for axis since the
// last PrepareOne
func (c *Controller) History(axis int) ([]float64, error) {
	c.Lock()
	defer c.Unlock()
	if _, err := c.registry.Get(axis); err != nil {
		return nil, err
	}
	h := c.history[axis]
	out := make([]float64, len(h))
	copy(out, h)
	return out, nil
}

// Run is the history of every added axis, in axis order
type Run struct {
	Channels []string
	Data     [][]float64
}

// Run returns the history of every added axis
func (c *Controller) Run() Run {
	c.Lock()
	defer c.Unlock()
	var r Run
	for _, axis := range c.registry.Axes() {
		ch, _ := c.registry.Get(axis)
		h := c.history[axis]
		data := make([]float64, len(h))
		copy(data, h)
		r.Channels = append(r.Channels, ch.Name)
		r.Data = append(r.Data, data)
	}
	return r
}
