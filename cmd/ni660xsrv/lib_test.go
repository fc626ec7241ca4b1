package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/ni660x/logger"
)

func mockConfig() Config {
	return Config{
		Mock: true,
		Controllers: []ControllerSetup{{
			Endpoint:     "omc/ni660x",
			ChannelNames: "ctr0, ctr1",
			StatusRate:   20,
		}},
	}
}

func newTestServer(t *testing.T, c Config) *httptest.Server {
	t.Helper()
	mux, err := BuildMux(c, prometheus.NewRegistry(), logger.Discard())
	require.NoError(t, err)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestBuildMuxRoutes(t *testing.T) {
	srv := newTestServer(t, mockConfig())

	resp := do(t, http.MethodGet, srv.URL+"/endpoints", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var graph map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&graph))
	require.Contains(t, graph, "/omc/ni660x")
	assert.Contains(t, graph["/omc/ni660x"], "/prepare")
	assert.Contains(t, graph["/omc/ni660x"], "/lock")

	resp = do(t, http.MethodGet, srv.URL+"/omc/ni660x/synchronization", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "HardwareTrigger")
}

func TestBuildMuxSimulatedScan(t *testing.T) {
	srv := newTestServer(t, mockConfig())
	base := srv.URL + "/omc/ni660x"

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/prepare",
		`{"highTime":0.001,"repetitions":5,"starts":1}`).StatusCode)
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/prestart", "{}").StatusCode)
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/start", "{}").StatusCode)

	total := 0
	require.Eventually(t, func() bool {
		resp := do(t, http.MethodPost, base+"/read", "{}")
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var readings []struct {
			Axis   int       `json:"axis"`
			Values []float64 `json:"values"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&readings); err != nil || len(readings) == 0 {
			return false
		}
		total += len(readings[0].Values)
		return total == 5
	}, 2*time.Second, 10*time.Millisecond)

	resp := do(t, http.MethodGet, base+"/history.csv", "")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Equal(t, "index,ctr0,ctr1", lines[0])
	assert.Len(t, lines, 6)
}

func TestBuildMuxLock(t *testing.T) {
	srv := newTestServer(t, mockConfig())
	base := srv.URL + "/omc/ni660x"

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/lock", `{"bool":true}`).StatusCode)
	assert.Equal(t, http.StatusLocked, do(t, http.MethodPost, base+"/prepare",
		`{"highTime":0.001,"repetitions":5,"starts":1}`).StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/state", "").StatusCode)
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/lock", `{"bool":false}`).StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/prepare",
		`{"highTime":0.001,"repetitions":5,"starts":1}`).StatusCode)
}

func TestBuildMuxMetrics(t *testing.T) {
	srv := newTestServer(t, mockConfig())
	resp := do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ni660x_new_index_ready")
}

func TestBuildMuxBadSynchronization(t *testing.T) {
	c := mockConfig()
	c.Controllers[0].Synchronization = "Whenever"
	_, err := BuildMux(c, prometheus.NewRegistry(), logger.Discard())
	assert.Error(t, err)
}

func TestBuildMuxDuplicateController(t *testing.T) {
	c := mockConfig()
	c.Controllers = append(c.Controllers, c.Controllers[0])
	_, err := BuildMux(c, prometheus.NewRegistry(), logger.Discard())
	assert.Error(t, err, "the second controller registers the same metrics")
}
