package counter

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// DefaultFeedRate is the state feed rate when none is configured, Hz
const DefaultFeedRate = 4.

const feedWriteTimeout = 5 * time.Second

// Frame is one message of the state feed
type Frame struct {
	Time   time.Time   `json:"time"`
	States []AxisState `json:"states,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// StateFeed upgrades to a websocket and pushes a Frame with the state of
// every axis at FeedRate until the client goes away.  Anything the client
// sends is discarded.
func (h HTTPCounter) StateFeed() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("state feed upgrade failed", "err", err)
			return
		}
		defer conn.Close()
		h.log.Debug("state feed client connected", "remote", r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		lim := rate.NewLimiter(rate.Limit(h.FeedRate), 1)
		for {
			if err := lim.Wait(ctx); err != nil {
				h.log.Debug("state feed client disconnected", "remote", r.RemoteAddr)
				return
			}
			f := Frame{Time: time.Now()}
			f.States, err = states(h.Ctl)
			if err != nil {
				f.Error = err.Error()
			}
			conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteJSON(f); err != nil {
				h.log.Debug("state feed write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}
