package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	acq "github.com/nasa-jpl/ni660x/counter"
	httpcounter "github.com/nasa-jpl/ni660x/generichttp/counter"
)

// Client talks to one controller of ni660xsrv
type Client struct {
	// Base is the URL of the controller, ex. http://localhost:8000/omc/ni660x
	Base string

	// HTTP is the client used for every request
	HTTP *http.Client
}

// NewClient returns a client for the controller at addr+endpoint
func NewClient(addr, endpoint string) *Client {
	if !strings.HasPrefix(addr, "http") {
		addr = "http://" + addr
	}
	base := strings.TrimSuffix(addr, "/") + "/" + strings.Trim(endpoint, "/*")
	return &Client{Base: strings.TrimSuffix(base, "/"), HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		rdr = &buf
	} else if method == http.MethodPost {
		rdr = strings.NewReader("{}")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Post sends a POST with an empty body to path
func (c *Client) Post(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Prepare configures every axis for a scan
func (c *Client) Prepare(ctx context.Context, p httpcounter.Prepare) error {
	return c.do(ctx, http.MethodPost, "/prepare", p, nil)
}

// Load reloads every axis before a sub-scan start
func (c *Client) Load(ctx context.Context, l httpcounter.Load) error {
	return c.do(ctx, http.MethodPost, "/load", l, nil)
}

// Read polls the card and returns the new samples of every axis
func (c *Client) Read(ctx context.Context) ([]httpcounter.AxisReading, error) {
	var out []httpcounter.AxisReading
	err := c.do(ctx, http.MethodPost, "/read", nil, &out)
	return out, err
}

// States returns the state of every axis
func (c *Client) States(ctx context.Context) ([]httpcounter.AxisState, error) {
	var out []httpcounter.AxisState
	err := c.do(ctx, http.MethodGet, "/state", nil, &out)
	return out, err
}

// History copies the CSV history of the run to w
func (c *Client) History(ctx context.Context, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+"/history.csv", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /history.csv: %s", resp.Status)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// Progress is told how many samples each axis has delivered so far
type Progress func(start, starts int, samples map[int]int)

// Scan runs starts acquisitions of repetitions gates each.  After every start
// the controller is read at pollRate until every axis is Ready, then once
// more for the samples that came in with the last state change.  It returns
// the number of samples delivered per axis.
func Scan(ctx context.Context, c *Client, p httpcounter.Prepare, pollRate float64, progress Progress) (map[int]int, error) {
	if p.Starts < 1 {
		p.Starts = 1
	}
	if err := c.Prepare(ctx, p); err != nil {
		return nil, err
	}
	samples := map[int]int{}
	lim := rate.NewLimiter(rate.Limit(pollRate), 1)
	read := func() error {
		rds, err := c.Read(ctx)
		if err != nil {
			return err
		}
		for _, rd := range rds {
			samples[rd.Axis] += len(rd.Values)
		}
		return nil
	}
	for start := 1; start <= p.Starts; start++ {
		if err := c.Load(ctx, httpcounter.Load{HighTime: p.HighTime, Repetitions: p.Repetitions, Latency: p.Latency}); err != nil {
			return samples, err
		}
		if err := c.Post(ctx, "/prestart"); err != nil {
			return samples, err
		}
		if err := c.Post(ctx, "/start"); err != nil {
			return samples, err
		}
		for {
			if err := lim.Wait(ctx); err != nil {
				c.Post(context.Background(), "/abort")
				return samples, err
			}
			if err := read(); err != nil {
				return samples, err
			}
			if progress != nil {
				progress(start, p.Starts, samples)
			}
			sts, err := c.States(ctx)
			if err != nil {
				return samples, err
			}
			if allReady(sts) {
				break
			}
		}
		if err := read(); err != nil {
			return samples, err
		}
	}
	return samples, nil
}

func allReady(sts []httpcounter.AxisState) bool {
	for _, st := range sts {
		if st.State != acq.Ready {
			return false
		}
	}
	return true
}
