// Package ni660x talks to the NI660x counter service.
//
// The service owns the card and is reached over XML-RPC.  A Client satisfies
// counter.Remote; every call holds the client lock for the whole request and
// response, so several controllers may share one Client (see Get) without
// interleaving calls on the connection.
//
// A Mock card is provided for tests and for running the server without
// hardware.
package ni660x

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/kolo/xmlrpc"

	"github.com/nasa-jpl/ni660x/counter"
)

// DefaultPort is the port the counter service listens on
const DefaultPort = 9000

// DefaultTimeout bounds one request/response with the service
const DefaultTimeout = 10 * time.Second

// remote method names on the service
const (
	opIsChannelDone      = "is_channel_done"
	opSetChannelsEnabled = "set_channels_enabled"
	opStopChannels       = "stop_channels"
	opStartChannels      = "start_channels"
	opSamplesReady       = "get_samples_readies"
	opChannelData        = "get_channel_data"
)

// caller is the request/response half of an XML-RPC client
type caller interface {
	Call(method string, args interface{}, reply interface{}) error
}

// Address formats the URL of a counter service
func Address(host string, port int) string {
	if port == 0 {
		port = DefaultPort
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Client is a connection to a counter service.  It is concurrent safe.
type Client struct {
	// Addr is the URL of the service, http://host:port
	Addr string

	debug atomic.Bool
	mu    sync.Mutex
	rpc   caller
	log   *slog.Logger
}

var _ counter.Remote = (*Client)(nil)

// Dial checks that the service accepts connections and returns a client for
// it.  The check retries with exponential backoff for a few seconds; if the
// service is still unreachable the error is returned and the client must not
// be used.
func Dial(addr string, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("can not connect to %s: %w", addr, err)
	}
	hostport := u.Host
	if u.Port() == "" {
		hostport = net.JoinHostPort(u.Hostname(), strconv.Itoa(DefaultPort))
	}

	op := func() error {
		conn, err := net.DialTimeout("tcp", hostport, time.Second)
		if err != nil {
			log.Debug("counter service not reachable yet", "addr", addr, "err", err)
			return err
		}
		return conn.Close()
	}
	err = backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, fmt.Errorf("can not connect to %s: %w", addr, err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = DefaultTimeout
	rpc, err := xmlrpc.NewClient(addr, transport)
	if err != nil {
		return nil, fmt.Errorf("can not connect to %s: %w", addr, err)
	}
	log.Debug("connected to counter service", "addr", addr)
	return newClient(addr, rpc, log), nil
}

func newClient(addr string, rpc caller, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{Addr: addr, rpc: rpc, log: log}
}

// SetDebug turns logging of the entry and return of every call on or off.
// The client may be shared, so it applies to every controller using it.
func (c *Client) SetDebug(on bool) {
	c.debug.Store(on)
}

// Debug returns true if calls are logged
func (c *Client) Debug() bool {
	return c.debug.Load()
}

// call performs one locked request/response
func (c *Client) call(op string, args []interface{}) (interface{}, error) {
	debug := c.debug.Load()
	if debug {
		c.log.Info("NI client enter", "op", op)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var reply interface{}
	err := c.rpc.Call(op, args, &reply)
	if debug {
		c.log.Info("NI client return", "op", op)
	}
	if err != nil {
		return nil, &counter.RemoteError{Op: op, Err: err}
	}
	return reply, nil
}

// IsChannelDone returns true when the channel finished its acquisition
func (c *Client) IsChannelDone(name string) (bool, error) {
	reply, err := c.call(opIsChannelDone, []interface{}{name})
	if err != nil {
		return false, err
	}
	b, ok := reply.(bool)
	if !ok {
		return false, badReply(opIsChannelDone, reply)
	}
	return b, nil
}

// SetChannelsEnabled enables or disables a set of channels
func (c *Client) SetChannelsEnabled(names []string, enabled bool) error {
	_, err := c.call(opSetChannelsEnabled, []interface{}{names, enabled})
	return err
}

// StopChannels stops counting on a set of channels
func (c *Client) StopChannels(names []string) error {
	_, err := c.call(opStopChannels, []interface{}{names})
	return err
}

// StartChannels starts an acquisition of samples points with a gate time of
// highTime seconds
func (c *Client) StartChannels(names []string, samples int, highTime float64) error {
	_, err := c.call(opStartChannels, []interface{}{names, samples, highTime})
	return err
}

// SamplesReady returns the number of samples produced so far on a channel
func (c *Client) SamplesReady(name string) (int, error) {
	reply, err := c.call(opSamplesReady, []interface{}{name})
	if err != nil {
		return 0, err
	}
	n, ok := toInt(reply)
	if !ok {
		return 0, badReply(opSamplesReady, reply)
	}
	return n, nil
}

// ChannelData returns the samples with index in [from, to)
func (c *Client) ChannelData(name string, from, to int) ([]float64, error) {
	reply, err := c.call(opChannelData, []interface{}{name, from, to})
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return []float64{}, nil
	}
	items, ok := reply.([]interface{})
	if !ok {
		return nil, badReply(opChannelData, reply)
	}
	out := make([]float64, len(items))
	for i, it := range items {
		f, ok := toFloat(it)
		if !ok {
			return nil, badReply(opChannelData, it)
		}
		out[i] = f
	}
	return out, nil
}

func badReply(op string, reply interface{}) error {
	return &counter.RemoteError{Op: op, Err: fmt.Errorf("unexpected reply %v (%T)", reply, reply)}
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int64:
		return int(t), true
	case int:
		return t, true
	case float64:
		return int(t), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	}
	return 0, false
}
