// Package overview provides a read-only view of a lab server: which devices
// are configured, which instruments users currently hold, and what VISA
// resources the host can see.
package overview

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Nonlinear-FOD/lab-client/devices"
)

// Client queries the lab server's overview and system endpoints. It rides on
// the same dispatcher as device clients, so identity and auth headers (and
// the 401 retry) behave identically.
type Client struct {
	baseURL    string
	dispatcher *devices.Dispatcher
}

// New creates an overview client for the given server origin.
func New(baseURL string, options ...devices.Option) (*Client, error) {
	dispatcher, err := devices.NewDefaultDispatcher(baseURL, options...)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    dispatcher.Origin(),
		dispatcher: dispatcher,
	}, nil
}

// Devices lists the devices configured on the server, keyed by device name.
func (c *Client) Devices(ctx context.Context) (map[string]any, error) {
	return c.dispatcher.DoJSON(ctx, http.MethodGet, c.baseURL+"/overview/devices", nil)
}

// Locks lists the instruments currently held, keyed by device name with the
// holding user as value.
func (c *Client) Locks(ctx context.Context) (map[string]any, error) {
	return c.dispatcher.DoJSON(ctx, http.MethodGet, c.baseURL+"/overview/locks", nil)
}

// Resources lists VISA resources discovered on the server host. With
// probeIDN the server tries "*IDN?" on each resource, waiting at most
// timeout per probe.
func (c *Client) Resources(ctx context.Context, probeIDN bool, timeout time.Duration) (map[string]any, error) {
	query := url.Values{}
	query.Set("probe_idn", strconv.FormatBool(probeIDN))
	query.Set("timeout_ms", strconv.FormatInt(timeout.Milliseconds(), 10))
	return c.dispatcher.DoJSON(ctx, http.MethodGet, c.baseURL+"/system/resources?"+query.Encode(), nil)
}
