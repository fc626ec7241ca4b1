package ni660x

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/ni660x/counter"
	"github.com/nasa-jpl/ni660x/logger"
)

type call struct {
	method string
	args   []interface{}
}

type fakeRPC struct {
	calls   []call
	replies map[string]interface{}
	err     error
}

func (f *fakeRPC) Call(method string, args interface{}, reply interface{}) error {
	f.calls = append(f.calls, call{method, args.([]interface{})})
	if f.err != nil {
		return f.err
	}
	*(reply.(*interface{})) = f.replies[method]
	return nil
}

func TestClientWireNames(t *testing.T) {
	rpc := &fakeRPC{replies: map[string]interface{}{
		"is_channel_done":     true,
		"get_samples_readies": int64(12),
		"get_channel_data":    []interface{}{1.5, int64(2), 3.25},
	}}
	c := newClient("http://card:9000", rpc, nil)
	names := []string{"ctr0", "ctr1"}

	done, err := c.IsChannelDone("ctr0")
	require.NoError(t, err)
	assert.True(t, done)
	require.NoError(t, c.SetChannelsEnabled(names, true))
	require.NoError(t, c.StopChannels(names))
	require.NoError(t, c.StartChannels(names, 100, 0.01))
	n, err := c.SamplesReady("ctr1")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	data, err := c.ChannelData("ctr1", 3, 6)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2, 3.25}, data)

	want := []call{
		{"is_channel_done", []interface{}{"ctr0"}},
		{"set_channels_enabled", []interface{}{names, true}},
		{"stop_channels", []interface{}{names}},
		{"start_channels", []interface{}{names, 100, 0.01}},
		{"get_samples_readies", []interface{}{"ctr1"}},
		{"get_channel_data", []interface{}{"ctr1", 3, 6}},
	}
	assert.Equal(t, want, rpc.calls)
}

func TestClientErrors(t *testing.T) {
	boom := errors.New("connection reset")
	c := newClient("http://card:9000", &fakeRPC{err: boom}, nil)
	_, err := c.SamplesReady("ctr0")
	var rerr *counter.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "get_samples_readies", rerr.Op)
	assert.ErrorIs(t, err, boom)
}

func TestClientBadReply(t *testing.T) {
	c := newClient("http://card:9000", &fakeRPC{replies: map[string]interface{}{
		"is_channel_done":  "yes",
		"get_channel_data": []interface{}{"x"},
	}}, nil)
	_, err := c.IsChannelDone("ctr0")
	var rerr *counter.RemoteError
	assert.ErrorAs(t, err, &rerr)
	_, err = c.ChannelData("ctr0", 0, 1)
	assert.ErrorAs(t, err, &rerr)

	c = newClient("http://card:9000", &fakeRPC{}, nil)
	data, err := c.ChannelData("ctr1", 0, 1)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "http://card:9000", Address("card", 0))
	assert.Equal(t, "http://10.0.0.2:9100", Address("10.0.0.2", 9100))
}

func TestDialUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	start := time.Now()
	_, err = Dial(Address("127.0.0.1", port), nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestSharedClient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	port := srv.Listener.Addr().(*net.TCPAddr).Port
	addr := Address("127.0.0.1", port)
	defer Forget(addr)

	a, err := Get(addr, nil)
	require.NoError(t, err)
	b, err := Get(addr, nil)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "http://127.0.0.1:"+strconv.Itoa(port), a.Addr)

	Forget(addr)
	c, err := Get(addr, nil)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestSetDebugWhileCalling(t *testing.T) {
	rpc := &fakeRPC{replies: map[string]interface{}{"is_channel_done": false}}
	c := newClient("http://card:9000", rpc, logger.Discard())
	assert.False(t, c.Debug())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := c.IsChannelDone("ctr0")
				assert.NoError(t, err)
			}
		}()
	}
	c.SetDebug(true)
	wg.Wait()
	assert.True(t, c.Debug())
	assert.Len(t, rpc.calls, 200)
}
