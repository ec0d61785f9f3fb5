package mbox

import (
	"context"
	"io"
	"sync"
)

// Pipe is an in-process mailbox. The daemon uses it as a Device while a
// host, usually a test, drives it with Transact.
type Pipe struct {
	requests  chan Request
	responses chan Response
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	events uint8
	writes int
}

// NewPipe creates an open pipe.
func NewPipe() *Pipe {
	return &Pipe{
		requests:  make(chan Request),
		responses: make(chan Response),
		done:      make(chan struct{}),
	}
}

// ReadRequest waits for the host to send a command.
func (p *Pipe) ReadRequest() (Request, error) {
	select {
	case req := <-p.requests:
		return req, nil
	case <-p.done:
		return Request{}, io.EOF
	}
}

// WriteResponse hands the response to the waiting host.
func (p *Pipe) WriteResponse(resp Response) error {
	select {
	case p.responses <- resp:
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	}
}

// PutEvents updates the event register.
func (p *Pipe) PutEvents(events uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = events
	p.writes++

	return nil
}

// Close makes both sides of the pipe fail.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// Transact sends a command as the host and waits for the response.
func (p *Pipe) Transact(ctx context.Context, req Request) (Response, error) {
	select {
	case p.requests <- req:
	case <-p.done:
		return Response{}, io.ErrClosedPipe
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-p.responses:
		return resp, nil
	case <-p.done:
		return Response{}, io.ErrClosedPipe
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Events returns the event register as the host sees it.
func (p *Pipe) Events() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.events
}

// EventWrites returns how many times the event register was written.
func (p *Pipe) EventWrites() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.writes
}
