package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nasa-jpl/ni660x/logger"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "ni660xsrv.yml"
	k              = koanf.New(".")
	log            = slog.Default()
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:     ":8000",
		LogLevel: "info",
		Controllers: []ControllerSetup{{
			Endpoint:        "/ni660x",
			Host:            "localhost",
			Port:            9000,
			ChannelNames:    "Dev1/ctr0,Dev1/ctr1",
			LatencyTime:     2.5e-6,
			Synchronization: "HardwareTrigger",
			StatusRate:      4,
		}}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) && !strings.Contains(err.Error(), "no such") { // file missing, who cares
			log.Error("error loading config", "err", err)
			os.Exit(1)
		}
	}
}

func setuplog(c Config) {
	lvl, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		log.Error("bad log level", "err", err)
		os.Exit(1)
	}
	log, _ = logger.New(os.Stdout, lvl)
	slog.SetDefault(log)
}

func root() {
	str := `ni660xsrv drives NI660x counter/timer cards through their counter service and
exposes the acquisition controller over HTTP.  Each configured controller gets
its own set of routes, lock, websocket state feed and metrics.

Usage:
	ni660xsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `ni660xsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

No two controllers can have the same Endpoint.

Endpoints may look like any variation between "omc/ni660x" or "/omc/ni660x/*", the leading
and trailing slashes, as well as the *, are added by the server if missing.

Synchronization is one of HardwareTrigger, HardwareGate, HardwareStart, or their
numbers 1, 3, 5.  Software synchronizations are accepted here but every
prepare will be refused until a hardware one is set.

With Mock: true no counter service is contacted; each controller gets a simulated
card which counts one sample per gate time.

Routes per controller, below its Endpoint:
	POST /prepare        {"highTime", "repetitions", "latency", "starts"}
	POST /load           {"highTime", "repetitions", "latency"}
	POST /prestart, /start, /read, /abort, /stop
	GET  /state, /status, /state/feed (websocket)
	GET  /axis/{axis}/data, /axis/{axis}/state
	GET/POST /axis/{axis}/par/{position_capture|position_start|position_formula}
	GET/POST /synchronization, GET /latency-time
	GET  /history.csv, /history.fits
	GET/POST /lock

The server also serves /endpoints and /metrics.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Error("can not unmarshal config", "err", err)
		os.Exit(1)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Error("can not create config file", "err", err)
		os.Exit(1)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Error("can not write config file", "err", err)
		os.Exit(1)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Error("can not print config", "err", err)
		os.Exit(1)
	}
}

func pversion() {
	fmt.Printf("ni660xsrv version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Error("can not unmarshal config", "err", err)
		os.Exit(1)
	}
	setuplog(c)
	mux, err := BuildMux(c, prometheus.DefaultRegisterer, log)
	if err != nil {
		log.Error("can not set up controllers", "err", err)
		os.Exit(1)
	}
	log.Info("now listening for requests", "addr", c.Addr)
	err = http.ListenAndServe(c.Addr, mux)
	log.Error("server stopped", "err", err)
	os.Exit(1)
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Error("unknown command", "cmd", cmd)
		os.Exit(1)
	}
}
