// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package perlssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/creachadair/mds/value"
	"github.com/creachadair/taskgroup"
)

// A Channel is a reliable ordered stream of frames connecting the client to a
// remote interpreter.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the frame in wire format to the remote interpreter.
	Send(*Frame) error

	// Receive the next available frame from the channel.
	Recv() (*Frame, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// A FrameLogger logs a frame exchanged with the remote interpreter.
type FrameLogger func(fr FrameInfo)

// A FrameInfo combines a frame and a flag indicating whether the frame was
// sent or received.
type FrameInfo struct {
	*Frame      // the frame being logged
	Sent   bool // whether the frame was sent (true) or received (false)
}

func (f FrameInfo) String() string {
	return fmt.Sprintf("%v %v", value.Cond(f.Sent, "send", "recv"), f.Frame)
}

// ErrClientStopped is reported for calls that were abandoned because the
// channel closed, and for calls issued after the channel has failed.
var ErrClientStopped = errors.New("client is stopped")

// ErrUnknownReply is reported for a call whose pending slot was consumed by a
// response frame with an unrecognized tag. The call did not produce a remote
// result, but the transport remains usable.
var ErrUnknownReply = errors.New("unknown reply tag")

// A RemoteError is a failure reported by the remote interpreter in a DIED
// response. The message carries the remote error text verbatim; the client
// does not attempt to classify remote exception content.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "remote error: " + e.Message }

// A Client drives a remote command interpreter over a Channel using a strict
// request/response protocol. The wire format carries no request identifiers:
// responses arrive in exactly the order requests were written, and the client
// keeps a FIFO queue of pending calls to match them up. A zero-valued Client
// is ready for use, but must not be copied after any method has been called.
//
// Call Start with a channel to start the service routine for the client.
// Once started, a client runs until Stop is called, the channel closes, or a
// protocol fatal error occurs. Use Wait to wait for the client to exit and
// report its status.
//
// The request methods (Eval, Store, Call, LoadLibrary) are safe for
// concurrent use by multiple goroutines.
type Client struct {
	in  interface{ Recv() (*Frame, error) }
	out struct {
		// Must hold the lock to send to or set ch. Holding it across the
		// enqueue and the write makes the two a single atomic step, so the
		// queue order always equals the wire order.
		sync.Mutex
		ch Channel
	}
	tasks *taskgroup.Group

	μ sync.Mutex

	err    error     // protocol fatal error
	calls  []pending // pending calls, oldest first
	flog   FrameLogger
	log    *slog.Logger // anomaly logging; nil means silent
	onExit func(error)
}

// NewClient constructs a new unstarted client.
func NewClient() *Client { return new(Client) }

// Start starts the client running on the given channel. The client runs
// until the channel closes or a protocol fatal error occurs. Start does not
// block; call Wait to wait for the client to exit and report its status.
func (c *Client) Start(ch Channel) *Client {
	if c.in != nil {
		panic("client is already started")
	}

	g := taskgroup.New(nil)
	c.in = ch
	c.tasks = g
	c.out.ch = ch
	c.err = nil
	c.calls = nil

	g.Go(func() error {
		for {
			fr, err := c.in.Recv()
			if err != nil {
				c.fail(err)
				return nil
			}
			clientMetrics.frameRecv.Add(1)
			c.dispatchFrame(fr)
		}
	})

	return c
}

// Stop closes the channel and terminates the client. It blocks until the
// client has exited and returns its status. Stop does not wait for the
// remote process, if any, to exit. After Stop completes it is safe to
// restart the client with a new channel.
func (c *Client) Stop() error { c.closeOut(); return c.Wait() }

// Wait blocks until c terminates and reports the error that caused it to
// stop. After Wait completes it is safe to restart the client with a new
// channel.
//
// If c is not running, or has stopped because of a closed channel, Wait
// returns nil; otherwise it returns the error that triggered the failure.
func (c *Client) Wait() error {
	if !c.waitTasks() {
		return nil // the client is not running
	}

	// Clean up client state so it can be garbage collected.
	c.μ.Lock()
	defer c.μ.Unlock()
	c.in = nil
	c.tasks = nil
	c.out.Lock()
	c.out.ch = nil
	c.out.Unlock()
	c.calls = nil

	if treatErrorAsSuccess(c.err) {
		return nil
	}
	return c.err
}

// OnExit registers a callback to be invoked when the client terminates. The
// callback is executed synchronously during shutdown, with the same error
// value that would be reported by the Wait method.
//
// Only one exit callback can be registered at a time; if f == nil the
// callback is removed. OnExit returns c to permit chaining.
func (c *Client) OnExit(f func(error)) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.onExit = f
	return c
}

// LogFrames registers a callback that will be invoked for each frame
// exchanged with the remote interpreter, including frames to be discarded.
//
// Passing a nil callback disables frame logging. The frame logger is invoked
// synchronously with dispatch, prior to sending or matching a frame.
// LogFrames returns c to permit chaining.
func (c *Client) LogFrames(log FrameLogger) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.flog = log
	return c
}

// SetLog registers a logger for protocol anomalies: responses with no
// pending call, unrecognized response tags, and late responses to abandoned
// calls. If log == nil (the default) anomalies are counted but not logged.
// SetLog returns c to permit chaining.
func (c *Client) SetLog(log *slog.Logger) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.log = log
	return c
}

// Eval evaluates code on the remote interpreter with the given arguments
// visible to it as its parameter list, and returns the resulting values.
// A failure inside the evaluated code is reported as a *RemoteError.
//
// Only flat string arguments and return values are supported; passing values
// that are not plain strings to the remote side is undefined behavior of the
// wire codec.
func (c *Client) Eval(ctx context.Context, code string, args ...string) ([]string, error) {
	fr, err := c.roundTrip(ctx, TagEval, append([]string{code}, args...))
	if err != nil {
		return nil, err
	}
	return resultValues(fr)
}

// Store installs code on the remote interpreter as a named function that can
// later be invoked with Call. A failure compiling the code is reported as a
// *RemoteError.
func (c *Client) Store(ctx context.Context, name, code string) error {
	fr, err := c.roundTrip(ctx, TagStore, []string{name, code})
	if err != nil {
		return err
	}
	switch fr.Tag {
	case TagOK:
		clientMetrics.storesOK.Add(1)
		return nil
	case TagDied:
		clientMetrics.remoteDied.Add(1)
		return &RemoteError{Message: dieMessage(fr)}
	}
	return fmt.Errorf("unexpected %q reply to store", fr.Tag)
}

// Call invokes a function previously installed with Store, passing the given
// arguments, and returns the resulting values. A failure inside the function
// is reported as a *RemoteError.
func (c *Client) Call(ctx context.Context, name string, args ...string) ([]string, error) {
	fr, err := c.roundTrip(ctx, TagCall, append([]string{name}, args...))
	if err != nil {
		return nil, err
	}
	return resultValues(fr)
}

// resultValues interprets a response frame to an Eval or Call request.
func resultValues(fr *Frame) ([]string, error) {
	switch fr.Tag {
	case TagReturned:
		return fr.Args, nil
	case TagDied:
		clientMetrics.remoteDied.Add(1)
		return nil, &RemoteError{Message: dieMessage(fr)}
	}
	return nil, fmt.Errorf("unexpected %q reply to call", fr.Tag)
}

// dieMessage extracts the error message from a DIED response.
func dieMessage(fr *Frame) string {
	if len(fr.Args) == 0 {
		return "remote died without a message"
	}
	return fr.Args[0]
}

// roundTrip writes one request frame and blocks until its response arrives,
// ctx ends, or the channel fails.
//
// If ctx ends first, the pending call is NOT withdrawn: the protocol has no
// cancellation, so the response is still owed and must consume this call's
// queue slot when it arrives. The slot is delivered into a buffer and
// discarded.
func (c *Client) roundTrip(ctx context.Context, tag string, args []string) (_ *Frame, err error) {
	clientMetrics.callOut.Add(1)
	defer func() {
		if err != nil {
			clientMetrics.callOutErr.Add(1)
		}
	}()

	pc, err := c.sendReq(tag, args)
	if err != nil {
		return nil, err
	}
	clientMetrics.callPending.Add(1)
	defer clientMetrics.callPending.Add(-1)

	select {
	case rep, ok := <-pc:
		if !ok {
			// Closed without a response: the channel failed.
			return nil, c.stopErr()
		}
		if rep.err != nil {
			return nil, rep.err
		}
		return rep.frame, nil

	case <-ctx.Done():
		clientMetrics.callAbandoned.Add(1)
		return nil, ctx.Err()
	}
}

// sendReq writes a request frame for the given tag and arguments and
// enqueues a pending call for its response. The enqueue and the write happen
// under the send lock as one atomic step; a response cannot be read for a
// request that is not yet queued, and no two requests can interleave.
//
// A write error is protocol fatal: the stream can no longer be trusted to be
// at a frame boundary, so the channel is closed and all pending calls fail.
func (c *Client) sendReq(tag string, args []string) (pending, error) {
	fr := &Frame{Tag: tag, Args: args}
	pc := make(pending, 1)

	c.out.Lock()
	c.μ.Lock()
	if c.in == nil {
		c.μ.Unlock()
		c.out.Unlock()
		panic("client is not started")
	}
	if err := c.err; err != nil {
		c.μ.Unlock()
		c.out.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrClientStopped, err)
	}
	c.calls = append(c.calls, pc)
	flog := c.flog
	c.μ.Unlock()

	clientMetrics.frameSent.Add(1)
	if flog != nil {
		flog(FrameInfo{Frame: fr, Sent: true})
	}
	err := c.out.ch.Send(fr)
	c.out.Unlock()

	if err != nil {
		c.fail(fmt.Errorf("send request: %w", err))
		return nil, err
	}
	return pc, nil
}

// dispatchFrame matches an inbound frame to the oldest pending call.
// Anomalies are logged and counted but never terminate the client.
func (c *Client) dispatchFrame(fr *Frame) {
	c.μ.Lock()
	flog, log := c.flog, c.log
	c.μ.Unlock()
	if flog != nil {
		flog(FrameInfo{Frame: fr, Sent: false})
	}

	switch fr.Tag {
	case TagReturned, TagOK, TagDied:
		pc, ok := c.popCall()
		if !ok {
			// A response with no matching pending call is a protocol
			// violation by the remote, but not worth dying over.
			clientMetrics.lateResponses.Add(1)
			if log != nil {
				log.Warn("response with no pending call", "frame", fr.String())
			}
			return
		}
		pc.deliver(reply{frame: fr}) // does not block

	default:
		clientMetrics.frameDropped.Add(1)
		if log != nil {
			log.Warn("unrecognized reply tag", "tag", fr.Tag)
		}
		// The frame still occupies this call's turn in the response order.
		// Resolve the oldest pending call with a local protocol error so its
		// caller is never left hanging.
		if pc, ok := c.popCall(); ok {
			pc.deliver(reply{err: fmt.Errorf("%w %q", ErrUnknownReply, fr.Tag)})
		}
	}
}

// popCall removes and returns the oldest pending call, if any.
func (c *Client) popCall() (pending, bool) {
	c.μ.Lock()
	defer c.μ.Unlock()
	if len(c.calls) == 0 {
		return nil, false
	}
	pc := c.calls[0]
	c.calls = c.calls[1:]
	return pc, true
}

// fail terminates all pending calls and updates the failure status.
func (c *Client) fail(err error) {
	c.closeOut()

	c.μ.Lock()
	defer c.μ.Unlock()

	// Terminate all incomplete pending calls.
	for _, pc := range c.calls {
		pc.close()
	}
	c.calls = nil

	c.err = err
	if c.onExit != nil {
		if treatErrorAsSuccess(err) {
			err = nil
		}
		c.onExit(err)
	}
}

// stopErr reports the error to deliver for a call abandoned by channel
// failure: the fatal error if there was one, otherwise plain closure.
func (c *Client) stopErr() error {
	c.μ.Lock()
	err := c.err
	c.μ.Unlock()
	if err == nil || treatErrorAsSuccess(err) {
		return ErrClientStopped
	}
	return fmt.Errorf("%w: %w", ErrClientStopped, err)
}

// waitTasks blocks until the service routine has finished, and reports
// whether the client was running.
func (c *Client) waitTasks() bool {
	c.μ.Lock()
	t := c.tasks
	c.μ.Unlock()
	if t == nil {
		return false
	}
	t.Wait()
	return true
}

func (c *Client) closeOut() {
	c.out.Lock()
	defer c.out.Unlock()
	if c.out.ch != nil {
		c.out.ch.Close()
	}
}

// treatErrorAsSuccess reports whether err is one of the ways a channel
// signals orderly closure: end of stream, a closed network connection, or a
// pipe endpoint torn down during shutdown.
func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// reply is the resolution of one pending call: a response frame, or a local
// protocol error that consumed the call's turn.
type reply struct {
	frame *Frame
	err   error
}

type pending chan reply

func (p pending) close() {
	if p != nil {
		close(p)
	}
}

func (p pending) deliver(r reply) {
	if p != nil {
		p <- r // does not block: p is buffered and receives one reply
		close(p)
	}
}
