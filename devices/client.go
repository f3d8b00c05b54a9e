package devices

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// DeviceRef identifies a device either by bare name or by any type that
// exposes one, so wrappers can be passed where a name is expected.
type DeviceRef interface {
	DeviceName() string
}

// Name is a DeviceRef for a plain device key from the server config,
// e.g. Name("osa_1").
type Name string

func (n Name) DeviceName() string {
	return string(n)
}

// Client drives one named device on a lab server. It is the base every
// instrument-specific wrapper delegates to and holds no connection state of
// its own; whether the device is live is the server's business.
type Client struct {
	baseURL    string
	deviceName string
	deviceURL  string
	dispatcher *Dispatcher
}

// NewClient creates a client for the given device. Options are shared with
// the dispatcher; by default an auth manager is wired up unless
// LAB_CLIENT_DISABLE_AUTH is set. Creating a client performs no I/O; call
// Connect to instantiate the device server-side.
func NewClient(baseURL string, device DeviceRef, options ...Option) (*Client, error) {
	if device == nil || device.DeviceName() == "" {
		return nil, errors.New("[devices.NewClient] device name is required")
	}
	dispatcher, err := NewDefaultDispatcher(baseURL, options...)
	if err != nil {
		return nil, err
	}
	return newClient(dispatcher, device.DeviceName()), nil
}

// NewClientWithDispatcher builds a client on an existing dispatcher so
// several devices on one server can share headers, auth, and HTTP transport.
func NewClientWithDispatcher(dispatcher *Dispatcher, device DeviceRef) (*Client, error) {
	if device == nil || device.DeviceName() == "" {
		return nil, errors.New("[devices.NewClientWithDispatcher] device name is required")
	}
	return newClient(dispatcher, device.DeviceName()), nil
}

func newClient(dispatcher *Dispatcher, deviceName string) *Client {
	baseURL := dispatcher.Origin()
	return &Client{
		baseURL:    baseURL,
		deviceName: deviceName,
		deviceURL:  fmt.Sprintf("%s/devices/%s", baseURL, deviceName),
		dispatcher: dispatcher,
	}
}

// DeviceName returns the server config key this client drives. It also makes
// *Client a DeviceRef.
func (c *Client) DeviceName() string {
	return c.deviceName
}

// Connect creates or reuses the server-side device instance, acquiring the
// user's lock when an identity is present. Nil-valued params are dropped so
// server-side config defaults apply; calling Connect again with different
// overrides reconfigures the live instance rather than erroring.
func (c *Client) Connect(ctx context.Context, initParams map[string]any) error {
	cleaned := make(map[string]any, len(initParams))
	for k, v := range initParams {
		if v != nil {
			cleaned[k] = v
		}
	}
	_, err := c.dispatcher.DoJSON(ctx, http.MethodPost, c.deviceURL+"/connect", cleaned)
	if err != nil {
		return errors.Wrapf(err, "could not connect to device at %s", c.baseURL)
	}
	return nil
}

// GetProperty reads a device property. JSON scalars come back as-is; a
// homogeneous numeric array comes back as []float64 (see AsVector).
func (c *Client) GetProperty(ctx context.Context, name string) (any, error) {
	payload, err := c.property(ctx, name, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	return Vectorize(payload["value"]), nil
}

// SetProperty writes a device property. Success carries no return value.
func (c *Client) SetProperty(ctx context.Context, name string, value any) error {
	_, err := c.property(ctx, name, http.MethodPost, map[string]any{"value": value})
	return err
}

// property guards the access method locally before any network I/O.
func (c *Client) property(ctx context.Context, name, method string, body any) (map[string]any, error) {
	if method != http.MethodGet && method != http.MethodPost {
		return nil, errors.Errorf("method must be %s or %s", http.MethodGet, http.MethodPost)
	}
	return c.dispatcher.DoJSON(ctx, method, c.deviceURL+"/"+name, body)
}

// Call invokes a device method with named arguments and returns the reply's
// result field; a nil result is a valid "no return value". A reply carrying
// detail instead of a result is a server-side application error.
func (c *Client) Call(ctx context.Context, name string, kwargs map[string]any) (any, error) {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	payload, err := c.dispatcher.DoJSON(ctx, http.MethodPost, c.deviceURL+"/"+name, kwargs)
	if err != nil {
		return nil, err
	}
	result, ok := payload["result"]
	if !ok {
		if detail, ok := payload["detail"]; ok {
			return nil, &ServerError{Detail: fmt.Sprintf("%v", detail)}
		}
		return nil, nil
	}
	return Vectorize(result), nil
}

// Disconnect tears down the server-side device instance and releases the
// user lock. Instrument wrappers route their Close here rather than at a
// device-specific teardown so the lock is dropped even when the driver's own
// close fails.
func (c *Client) Disconnect(ctx context.Context) error {
	url := fmt.Sprintf("%s/devices/%s/disconnect", c.baseURL, c.deviceName)
	_, err := c.dispatcher.DoJSON(ctx, http.MethodPost, url, nil)
	return err
}
