// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package perlssh implements a client transport that drives a remote Perl
// interpreter over a single bidirectional byte stream, typically the piped
// stdio of a spawned child process or an ssh remote shell.
//
// Requests and responses are exchanged as frames over a shared reliable
// channel. The wire protocol carries no request identifiers: the remote
// interpreter answers requests strictly in the order they arrive, and the
// client matches each inbound response to the oldest pending call. Multiple
// requests may be in flight at once; the FIFO discipline is the correlation
// mechanism.
//
// # Clients
//
// The core type defined by this package is the [Client]. To create a new,
// unstarted client:
//
//	c := perlssh.NewClient()
//
// To start the service routine, call the Start method with a channel
// connected to a frame-speaking interpreter:
//
//	c.Start(ch)
//
// The client runs until [Client.Stop] is called, the channel is closed by
// the remote side, or a protocol fatal error occurs. Call [Client.Wait] to
// wait for the client to exit and return its status:
//
//	if err := c.Wait(); err != nil {
//	   log.Fatalf("Client failed: %v", err)
//	}
//
// Most callers will not assemble a client by hand: the session package
// spawns the interpreter, delivers the bootstrap [Firmware], and returns a
// started client.
//
// # Channels
//
// The [Channel] interface defines the ability to send and receive frames. A
// Channel implementation must allow concurrent use by one sender and one
// receiver. The channel package provides implementations over in-memory
// pairs, reader/writer endpoints, and spawned child processes.
//
// # Requests
//
// Three request kinds are defined, all blocking until the matching response
// arrives:
//
//	vals, err := c.Eval(ctx, "$_[0] + $_[1]", "1", "2")
//	err := c.Store(ctx, "sum", "my $t = 0; $t += $_ for @_; return $t")
//	vals, err := c.Call(ctx, "sum", "1", "2", "3")
//
// All arguments and results are flat strings; structured values are not
// supported by the wire codec. A failure reported by the remote interpreter
// has concrete type [RemoteError] and carries the remote message verbatim,
// distinct from local configuration or transport errors.
//
// If the context ends before the response arrives, the call returns the
// context error but is not withdrawn: the protocol has no cancellation, so
// the client quietly consumes and discards the eventual response to keep the
// correlation queue aligned.
//
// # Libraries
//
// A [Library] is a named batch of function definitions installed with
// [Client.LoadLibrary], one store at a time, aborting on the first failure.
// The library package maintains a registry of named libraries, including
// small built-in ones for filesystem and file I/O helpers.
//
// # Metrics
//
// Clients maintain a collection of metrics while running. Use the
// [Client.Metrics] method to obtain an [expvar.Map] containing the metrics
// exported by the client. Metrics are shared globally among all clients.
//
// The metrics currently exported include:
//
//   - frames_received: counter of frames received
//   - frames_sent: counter of frames sent
//   - frames_dropped: counter of frames with unrecognized tags
//   - calls_out: counter of calls initiated
//   - calls_out_failed: counter of calls resulting in errors
//   - calls_pending: gauge of calls currently awaiting responses
//   - calls_abandoned: counter of calls abandoned by context cancellation
//   - late_responses: counter of responses with no pending call
//   - remote_died: counter of DIED responses received
//   - stores_ok: counter of stores acknowledged with OK
package perlssh
