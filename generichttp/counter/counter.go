// Package counter exposes a counter/timer controller over HTTP.
//
// Every framework call has a route; the bulk routes (prepare, load, prestart,
// read) apply the per-axis call to every added axis in axis order, which is
// what the host framework does on each step.
package counter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	acq "github.com/nasa-jpl/ni660x/counter"
	"github.com/nasa-jpl/ni660x/ctrl"
	"github.com/nasa-jpl/ni660x/generichttp"
)

// Controller is the framework facing side of a counter/timer controller;
// *ctrl.Controller is one
type Controller interface {
	Axes() []int
	AddDevice(axis int) error
	DeleteDevice(axis int)
	PrepareOne(axis int, value float64, repetitions int, latency float64, starts int) error
	LoadOne(axis int, value float64, repetitions int, latency float64) error
	PreStartOne(axis int, value float64) (bool, error)
	StartAll() error
	ReadAll() error
	ReadOne(axis int) ([]float64, error)
	StateOne(axis int) (acq.AxisState, string, error)
	GetAxisExtraPar(axis int, name string) (interface{}, error)
	SetAxisExtraPar(axis int, name string, value interface{}) error
	GetCtrlPar(name string) (interface{}, error)
	SetCtrlPar(name string, value interface{}) error
	AbortAll() error
	StopAll() error
	Status() ctrl.Status
	Run() ctrl.Run
}

var _ Controller = (*ctrl.Controller)(nil)

// StatusFor maps the errors of the acquisition engine to HTTP status codes
func StatusFor(err error) int {
	var rerr *acq.RemoteError
	switch {
	case errors.Is(err, acq.ErrUnknownParameter),
		errors.Is(err, acq.ErrInvalidValue),
		errors.Is(err, acq.ErrUnsupportedSynchronization),
		errors.Is(err, acq.ErrUnknownAxis):
		return http.StatusBadRequest
	case errors.Is(err, acq.ErrInvalidTransition),
		errors.Is(err, acq.ErrNothingArmed),
		errors.Is(err, acq.ErrNotConfigured),
		errors.Is(err, acq.ErrNotArmed):
		return http.StatusConflict
	case errors.As(err, &rerr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

var status = generichttp.ErrorStatus(StatusFor)

// Prepare is the body of POST /prepare
type Prepare struct {
	// HighTime is the gate time in seconds
	HighTime    float64 `json:"highTime"`
	Repetitions int     `json:"repetitions"`
	Latency     float64 `json:"latency"`
	Starts      int     `json:"starts"`
}

// Load is the body of POST /load
type Load struct {
	HighTime    float64 `json:"highTime"`
	Repetitions int     `json:"repetitions"`
	Latency     float64 `json:"latency"`
}

// AxisReading is the data of one axis returned by POST /read
type AxisReading struct {
	Axis   int       `json:"axis"`
	Values []float64 `json:"values"`
}

// AxisState is the reply of GET /axis/{axis}/state
type AxisState struct {
	Axis   int           `json:"axis"`
	State  acq.AxisState `json:"state"`
	Status string        `json:"status"`
}

// Par is the body and reply of the /axis/{axis}/par/{name} routes
type Par struct {
	Value interface{} `json:"value"`
}

// HTTPCounter wraps a Controller in an HTTP route table
type HTTPCounter struct {
	// Ctl is the underlying controller
	Ctl Controller

	// FeedRate is the rate of the state feed, Hz
	FeedRate float64

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable

	log *slog.Logger
}

// NewHTTPCounter returns a new HTTP wrapper around an existing controller.
// feedRate is the number of state frames per second pushed on /state/feed.
func NewHTTPCounter(c Controller, feedRate float64, log *slog.Logger) HTTPCounter {
	if log == nil {
		log = slog.Default()
	}
	if feedRate <= 0 {
		feedRate = DefaultFeedRate
	}
	h := HTTPCounter{Ctl: c, FeedRate: feedRate, log: log}
	h.RouteTable = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/prepare"}:  PrepareAll(c),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/load"}:     LoadAll(c),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/prestart"}: PreStartAll(c),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/start"}:    status.Do(c.StartAll),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/read"}:     ReadAll(c),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/abort"}:    status.Do(c.AbortAll),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}:     status.Do(c.StopAll),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}:    GetStatus(c),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/state"}:     GetStates(c),

		generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}"}:            AddDevice(c),
		generichttp.MethodPath{Method: http.MethodDelete, Path: "/axis/{axis}"}:          DeleteDevice(c),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/data"}:        ReadOne(c),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/state"}:       StateOne(c),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/par/{name}"}:  GetAxisPar(c),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/par/{name}"}: SetAxisPar(c),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/synchronization"}:         GetSynchronization(c),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/synchronization"}:        SetSynchronization(c),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/latency-time"}:            GetLatencyTime(c),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/history.csv"}:             HistoryCSV(c),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/history.fits"}:            HistoryFITS(c),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/state/feed"}:              h.StateFeed(),
	}
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPCounter) RT() generichttp.RouteTable {
	return h.RouteTable
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func axisParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := chi.URLParam(r, "axis")
	axis, err := strconv.Atoi(s)
	if err != nil {
		http.Error(w, fmt.Sprintf("axis %q is not a number", s), http.StatusBadRequest)
		return 0, false
	}
	return axis, true
}

// PrepareAll calls PrepareOne on every axis
func PrepareAll(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := Prepare{Starts: 1}
		if !decode(w, r, &p) {
			return
		}
		for _, axis := range c.Axes() {
			if err := c.PrepareOne(axis, p.HighTime, p.Repetitions, p.Latency, p.Starts); err != nil {
				status.Fail(w, err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

// LoadAll calls LoadOne on every axis
func LoadAll(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := Load{}
		if !decode(w, r, &l) {
			return
		}
		for _, axis := range c.Axes() {
			if err := c.LoadOne(axis, l.HighTime, l.Repetitions, l.Latency); err != nil {
				status.Fail(w, err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

// PreStartAll arms every axis
func PreStartAll(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, axis := range c.Axes() {
			if _, err := c.PreStartOne(axis, 0); err != nil {
				status.Fail(w, err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

// ReadAll polls the card then reads every axis, replying with a list of
// AxisReading
func ReadAll(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.ReadAll(); err != nil {
			status.Fail(w, err)
			return
		}
		axes := c.Axes()
		out := make([]AxisReading, 0, len(axes))
		for _, axis := range axes {
			v, err := c.ReadOne(axis)
			if err != nil {
				status.Fail(w, err)
				return
			}
			out = append(out, AxisReading{Axis: axis, Values: v})
		}
		writeJSON(w, out)
	}
}

// ReadOne replies with the new samples of one axis.  It does not poll; POST
// /read or the framework's ReadAll does.
func ReadOne(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, ok := axisParam(w, r)
		if !ok {
			return
		}
		v, err := c.ReadOne(axis)
		if err != nil {
			status.Fail(w, err)
			return
		}
		writeJSON(w, AxisReading{Axis: axis, Values: v})
	}
}

// StateOne replies with the state of one axis
func StateOne(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, ok := axisParam(w, r)
		if !ok {
			return
		}
		st, msg, err := c.StateOne(axis)
		if err != nil {
			status.Fail(w, err)
			return
		}
		writeJSON(w, AxisState{Axis: axis, State: st, Status: msg})
	}
}

// states returns the state of every axis
func states(c Controller) ([]AxisState, error) {
	axes := c.Axes()
	out := make([]AxisState, 0, len(axes))
	for _, axis := range axes {
		st, msg, err := c.StateOne(axis)
		if err != nil {
			return nil, err
		}
		out = append(out, AxisState{Axis: axis, State: st, Status: msg})
	}
	return out, nil
}

// GetStates replies with the state of every axis
func GetStates(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := states(c)
		if err != nil {
			status.Fail(w, err)
			return
		}
		writeJSON(w, out)
	}
}

// GetStatus replies with the controller and session snapshot
func GetStatus(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, c.Status())
	}
}

// AddDevice adds an axis
func AddDevice(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, ok := axisParam(w, r)
		if !ok {
			return
		}
		if err := c.AddDevice(axis); err != nil {
			status.Fail(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// DeleteDevice removes an axis
func DeleteDevice(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, ok := axisParam(w, r)
		if !ok {
			return
		}
		c.DeleteDevice(axis)
		w.WriteHeader(http.StatusOK)
	}
}

// GetAxisPar replies with an extra parameter of an axis as {"value": v}
func GetAxisPar(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, ok := axisParam(w, r)
		if !ok {
			return
		}
		v, err := c.GetAxisExtraPar(axis, chi.URLParam(r, "name"))
		if err != nil {
			status.Fail(w, err)
			return
		}
		writeJSON(w, Par{Value: v})
	}
}

// SetAxisPar sets an extra parameter of an axis from {"value": v}
func SetAxisPar(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, ok := axisParam(w, r)
		if !ok {
			return
		}
		p := Par{}
		if !decode(w, r, &p) {
			return
		}
		if err := c.SetAxisExtraPar(axis, chi.URLParam(r, "name"), p.Value); err != nil {
			status.Fail(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetSynchronization replies with the synchronization name as {"str": s}
func GetSynchronization(c Controller) http.HandlerFunc {
	return status.GetString(func() (string, error) {
		v, err := c.GetCtrlPar(ctrl.ParSynchronization)
		if err != nil {
			return "", err
		}
		return fmt.Sprint(v), nil
	})
}

// SetSynchronization sets the synchronization from {"str": name}
func SetSynchronization(c Controller) http.HandlerFunc {
	return status.SetString(func(s string) error {
		return c.SetCtrlPar(ctrl.ParSynchronization, s)
	})
}

// GetLatencyTime replies with the latency time as {"f64": t}
func GetLatencyTime(c Controller) http.HandlerFunc {
	return status.GetFloat(func() (float64, error) {
		v, err := c.GetCtrlPar(ctrl.ParLatencyTime)
		if err != nil {
			return 0, err
		}
		f, ok := v.(float64)
		if !ok {
			return 0, fmt.Errorf("latency time %v (%T)", v, v)
		}
		return f, nil
	})
}
