package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nasa-jpl/ni660x/counter"
	"github.com/nasa-jpl/ni660x/ctrl"
	"github.com/nasa-jpl/ni660x/generichttp"
	httpcounter "github.com/nasa-jpl/ni660x/generichttp/counter"
	"github.com/nasa-jpl/ni660x/ni660x"
	"github.com/nasa-jpl/ni660x/server/middleware/locker"
)

// ControllerSetup holds the properties of one counter/timer controller
type ControllerSetup struct {
	// Endpoint is the URL the routes of this controller are served on,
	// ex. Endpoint="/omc/ni660x" will produce routes of /omc/ni660x/start, etc.
	Endpoint string `yaml:"Endpoint" koanf:"Endpoint"`

	// Host is the host of the counter service
	Host string `yaml:"Host" koanf:"Host"`

	// Port is the port of the counter service, 9000 when zero
	Port int `yaml:"Port" koanf:"Port"`

	// ChannelNames is the comma separated list of channels, axis 1 first
	ChannelNames string `yaml:"ChannelNames" koanf:"ChannelNames"`

	// LatencyTime is the latency time reported to the framework, s
	LatencyTime float64 `yaml:"LatencyTime" koanf:"LatencyTime"`

	// Synchronization is the initial synchronization, a name or a number
	Synchronization string `yaml:"Synchronization" koanf:"Synchronization"`

	// StatusRate is the rate of the websocket state feed, Hz
	StatusRate float64 `yaml:"StatusRate" koanf:"StatusRate"`

	// Debug logs every call to the counter service
	Debug bool `yaml:"Debug" koanf:"Debug"`
}

// Config is a struct that holds the initialization parameters of the server
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Mock replaces every counter service with a simulated card
	Mock bool `yaml:"Mock" koanf:"Mock"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"LogLevel" koanf:"LogLevel"`

	// Controllers is the list of controllers to set up
	Controllers []ControllerSetup `yaml:"Controllers" koanf:"Controllers"`
}

// newController builds the controller of one setup, over a simulated card
// when c.Mock is set
func newController(c Config, setup ControllerSetup, cfg ctrl.Config, log *slog.Logger) (*ctrl.Controller, error) {
	if c.Mock {
		m := ni660x.NewMock(counter.ParseChannelNames(setup.ChannelNames)...)
		m.Simulate = true
		return ctrl.New(cfg, m, log), nil
	}
	return ctrl.Connect(cfg, log)
}

// BuildMux builds a chi router with one submux per controller, each behind
// its own lock, plus /endpoints listing every route and /metrics.
// Every configured channel is added as an axis.
func BuildMux(c Config, reg prometheus.Registerer, log *slog.Logger) (chi.Router, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	for _, setup := range c.Controllers {
		sync := counter.HardwareTrigger
		if setup.Synchronization != "" {
			var err error
			sync, err = counter.ParseSyncMode(setup.Synchronization)
			if err != nil {
				return nil, fmt.Errorf("controller %s: %w", setup.Endpoint, err)
			}
		}
		hndlS := generichttp.SubMuxSanitize(setup.Endpoint)
		ctl, err := newController(c, setup, ctrl.Config{
			Name:            hndlS,
			Host:            setup.Host,
			Port:            setup.Port,
			ChannelNames:    setup.ChannelNames,
			LatencyTime:     setup.LatencyTime,
			Synchronization: sync,
			Debug:           setup.Debug,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("controller %s: %w", setup.Endpoint, err)
		}
		for i := range ctl.ChannelNames() {
			if err := ctl.AddDevice(i + 1); err != nil {
				return nil, err
			}
		}
		if err := ctl.Metrics().Register(reg); err != nil {
			return nil, fmt.Errorf("controller %s: %w", setup.Endpoint, err)
		}

		httper := httpcounter.NewHTTPCounter(ctl, setup.StatusRate, log.With("endpoint", hndlS))
		lock := locker.New()
		locker.Inject(httper, lock, generichttp.ErrorStatus(httpcounter.StatusFor))
		supergraph[hndlS] = httper.RT().Endpoints()

		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
		log.Info("controller ready", "endpoint", hndlS, "channels", ctl.ChannelNames(), "mock", c.Mock)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	if g, ok := reg.(prometheus.Gatherer); ok {
		root.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	} else {
		root.Handle("/metrics", promhttp.Handler())
	}
	return root, nil
}
