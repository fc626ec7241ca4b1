package ni660x

import (
	"log/slog"

	"github.com/puzpuzpuz/xsync/v3"
)

// clients holds one Client per service address
var clients = xsync.NewMapOf[string, *Client]()

// Get returns the shared client for an address, dialing it on first use.
// Controllers on the same service share its lock this way.
func Get(addr string, log *slog.Logger) (*Client, error) {
	if c, ok := clients.Load(addr); ok {
		return c, nil
	}
	c, err := Dial(addr, log)
	if err != nil {
		return nil, err
	}
	actual, _ := clients.LoadOrStore(addr, c)
	return actual, nil
}

// Forget drops the shared client of an address so the next Get dials again
func Forget(addr string) {
	clients.Delete(addr)
}
