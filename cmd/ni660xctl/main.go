package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/posflag"
	flag "github.com/spf13/pflag"
	"github.com/theckman/yacspin"

	httpcounter "github.com/nasa-jpl/ni660x/generichttp/counter"
)

// Version is the version number.  Typically injected via ldflags with git build
var Version = "1"

// Options are the settings of one scan
type Options struct {
	Addr        string  `koanf:"addr"`
	Endpoint    string  `koanf:"endpoint"`
	HighTime    float64 `koanf:"high-time"`
	Repetitions int     `koanf:"repetitions"`
	Latency     float64 `koanf:"latency"`
	Starts      int     `koanf:"starts"`
	PollRate    float64 `koanf:"poll-rate"`
	Out         string  `koanf:"out"`
	Quiet       bool    `koanf:"quiet"`
}

var defaults = map[string]interface{}{
	"addr":        "localhost:8000",
	"endpoint":    "/ni660x",
	"high-time":   0.1,
	"repetitions": 10,
	"latency":     0.,
	"starts":      1,
	"poll-rate":   10.,
	"out":         "",
	"quiet":       false,
}

func flags(args []string) (*flag.FlagSet, error) {
	f := flag.NewFlagSet("scan", flag.ContinueOnError)
	f.String("addr", "localhost:8000", "address of ni660xsrv")
	f.String("endpoint", "/ni660x", "endpoint of the controller")
	f.Float64("high-time", 0.1, "gate time, s")
	f.Int("repetitions", 10, "samples per start")
	f.Float64("latency", 0, "latency time between gates, s")
	f.Int("starts", 1, "number of starts, more than one is a sub-scan")
	f.Float64("poll-rate", 10, "read rate while acquiring, Hz")
	f.StringP("out", "o", "", "CSV file to write, stdout if empty")
	f.BoolP("quiet", "q", false, "no spinner")
	return f, f.Parse(args)
}

// options layers the command line over the defaults
func options(args []string) (Options, error) {
	var o Options
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return o, err
	}
	f, err := flags(args)
	if err != nil {
		return o, err
	}
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return o, err
	}
	err = k.Unmarshal("", &o)
	return o, err
}

func root() {
	str := `ni660xctl drives a scan on a counter controller served by ni660xsrv and
writes the samples as CSV.

Usage:
	ni660xctl <command> [flags]

Commands:
	scan
	help
	version`
	fmt.Println(str)
}

func help() {
	fmt.Println(`ni660xctl scan prepares every axis of the controller, then for every start
loads, arms and starts them and reads until every axis is Ready.  The history
of the run is written as CSV when all starts are done.

Flags of scan:`)
	f, _ := flags(nil)
	f.PrintDefaults()
}

func scan(args []string) error {
	o, err := options(args)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var spin *yacspin.Spinner
	if !o.Quiet {
		spin, err = yacspin.New(yacspin.Config{
			Frequency:       100 * time.Millisecond,
			Writer:          os.Stderr,
			CharSet:         yacspin.CharSets[14],
			Suffix:          " scanning",
			SuffixAutoColon: true,
			StopMessage:     "done",
			StopFailMessage: "failed",
		})
		if err != nil {
			return err
		}
		if err = spin.Start(); err != nil {
			return err
		}
	}
	progress := func(start, starts int, samples map[int]int) {
		if spin != nil {
			spin.Message(progressMessage(start, starts, samples))
		}
	}

	c := NewClient(o.Addr, o.Endpoint)
	p := httpcounter.Prepare{HighTime: o.HighTime, Repetitions: o.Repetitions, Latency: o.Latency, Starts: o.Starts}
	_, err = Scan(ctx, c, p, o.PollRate, progress)
	if spin != nil {
		if err != nil {
			spin.StopFail()
		} else {
			spin.Stop()
		}
	}
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if o.Out != "" {
		fid, err := os.Create(o.Out)
		if err != nil {
			return err
		}
		defer fid.Close()
		w = fid
	}
	return c.History(ctx, w)
}

func progressMessage(start, starts int, samples map[int]int) string {
	axes := make([]int, 0, len(samples))
	for a := range samples {
		axes = append(axes, a)
	}
	sort.Ints(axes)
	parts := make([]string, len(axes))
	for i, a := range axes {
		parts[i] = fmt.Sprintf("%d:%d", a, samples[a])
	}
	return fmt.Sprintf("start %d/%d samples %s", start, starts, strings.Join(parts, " "))
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	switch strings.ToLower(args[1]) {
	case "scan":
		if err := scan(args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "help":
		help()
	case "version":
		fmt.Printf("ni660xctl version %v\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[1])
		os.Exit(1)
	}
}
