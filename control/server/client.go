package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sarchlab/mboxd/control"
	"github.com/sarchlab/mboxd/errkind"
)

// Client talks to the control plane of a running daemon.
type Client struct {
	http *http.Client
	base string
}

// NewClient creates a client for the daemon listening on the socket at
// path.
func NewClient(path string) *Client {
	if path == "" {
		path = DefaultSocket
	}

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", path)
		},
	}

	return NewHTTPClient(&http.Client{Transport: transport}, "http://mboxd")
}

// NewHTTPClient creates a client sending requests to base through c.
func NewHTTPClient(c *http.Client, base string) *Client {
	return &Client{http: c, base: base}
}

// call sends a request and decodes a successful response into out, which
// may be nil.
func (c *Client) call(method, path string, body, out any) error {
	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errkind.Wrap(errkind.Internal, "control client", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return errkind.Wrap(errkind.Internal, "control client", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rsp, err := c.http.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.BackendIO, "control client", err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		remote := &Error{}
		if err := json.NewDecoder(rsp.Body).Decode(remote); err != nil {
			return errkind.New(errkind.Internal, "control client",
				"%s %s: %s", method, path, rsp.Status)
		}

		kind, _ := errkind.ParseKind(remote.Kind)

		return errkind.Wrap(kind, path, remote)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(rsp.Body).Decode(out); err != nil {
		return errkind.Wrap(errkind.Internal, "control client", err)
	}

	return nil
}

// Ping checks that the daemon answers.
func (c *Client) Ping() error {
	return c.call(http.MethodPost, "/api/ping", nil, nil)
}

// DaemonState returns whether the daemon is suspended.
func (c *Client) DaemonState() (control.DaemonState, error) {
	var rsp StateResponse
	err := c.call(http.MethodGet, "/api/daemon_state", nil, &rsp)

	return control.DaemonState(rsp.State), err
}

// LPCState returns what the host LPC firmware space points at.
func (c *Client) LPCState() (control.LPCState, error) {
	var rsp StateResponse
	err := c.call(http.MethodGet, "/api/lpc_state", nil, &rsp)

	return control.LPCState(rsp.State), err
}

// Reset resets the daemon and points the host at the flash.
func (c *Client) Reset() error {
	return c.call(http.MethodPost, "/api/reset", nil, nil)
}

// Kill stops the daemon.
func (c *Client) Kill() error {
	return c.call(http.MethodPost, "/api/kill", nil, nil)
}

// MarkFlashModified drops the cached flash content.
func (c *Client) MarkFlashModified() error {
	return c.call(http.MethodPost, "/api/modified", nil, nil)
}

// Suspend takes the flash away from the host.
func (c *Client) Suspend() error {
	return c.call(http.MethodPost, "/api/suspend", nil, nil)
}

// Resume gives the flash back to the host.
func (c *Client) Resume(modified bool) error {
	mode := "clean"
	if modified {
		mode = "modified"
	}

	return c.call(http.MethodPost, "/api/resume/"+mode, nil, nil)
}

// SetBackend switches the daemon to another backend.
func (c *Client) SetBackend(name, path string) error {
	return c.call(http.MethodPost, "/api/backend",
		BackendRequest{Name: name, Path: path}, nil)
}

// Legacy runs a legacy control command.
func (c *Client) Legacy(cmd control.Command, args ...uint8) (control.ReturnCode, []uint8, error) {
	req := LegacyRequest{Args: []int{}}
	for _, a := range args {
		req.Args = append(req.Args, int(a))
	}

	var rsp LegacyResponse

	err := c.call(http.MethodPost, fmt.Sprintf("/api/legacy/%d", uint8(cmd)),
		req, &rsp)
	if err != nil {
		return control.ErrInternal, nil, err
	}

	out := make([]uint8, 0, len(rsp.Args))
	for _, a := range rsp.Args {
		out = append(out, uint8(a))
	}

	return rsp.ReturnCode, out, nil
}

// Properties returns the named event bits.
func (c *Client) Properties() (control.Properties, error) {
	var rsp control.Properties
	err := c.call(http.MethodGet, "/api/hiomap/properties", nil, &rsp)

	return rsp, err
}
