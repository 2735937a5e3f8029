// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package pool maintains a fixed-capacity pool of interpreter sessions, so
// that independent callers can issue requests without sharing one FIFO
// response stream.
package pool

import (
	"context"
	"errors"

	"github.com/jackc/puddle/v2"

	perlssh "github.com/gitpan/IPC-PerlSSH-Async"
	"github.com/gitpan/IPC-PerlSSH-Async/session"
)

// A Pool manages up to a fixed number of sessions, created on demand by a
// dial function and reused across requests. Sessions whose transport has
// failed are discarded rather than returned to the pool.
type Pool struct {
	pd *puddle.Pool[*session.Session]
}

// New constructs a pool that creates sessions with dial and holds at most
// maxSize of them. New panics if dial == nil.
func New(dial func(ctx context.Context) (*session.Session, error), maxSize int32) (*Pool, error) {
	if dial == nil {
		panic("pool: dial is nil")
	}
	pd, err := puddle.NewPool(&puddle.Config[*session.Session]{
		Constructor: dial,
		Destructor:  func(s *session.Session) { s.Close() },
		MaxSize:     maxSize,
	})
	if err != nil {
		return nil, err
	}
	return &Pool{pd: pd}, nil
}

// Eval evaluates code on a pooled session. See [perlssh.Client.Eval].
func (p *Pool) Eval(ctx context.Context, code string, args ...string) ([]string, error) {
	var vals []string
	err := p.withSession(ctx, func(s *session.Session) (err error) {
		vals, err = s.Eval(ctx, code, args...)
		return
	})
	return vals, err
}

// Call invokes a stored function on a pooled session. See
// [perlssh.Client.Call].
//
// Note that stored state is per session: a function stored on one pooled
// session is not visible to the others. Callers that depend on stored
// functions or libraries should install them in the dial function, so that
// every session the pool creates gets them.
func (p *Pool) Call(ctx context.Context, name string, args ...string) ([]string, error) {
	var vals []string
	err := p.withSession(ctx, func(s *session.Session) (err error) {
		vals, err = s.Call(ctx, name, args...)
		return
	})
	return vals, err
}

// Close destroys all idle sessions and waits for acquired ones to be
// released or destroyed.
func (p *Pool) Close() { p.pd.Close() }

// withSession acquires a session, runs f, and returns the session to the
// pool. A session whose transport failed is destroyed instead of being
// reused; remote evaluation failures leave the session healthy.
func (p *Pool) withSession(ctx context.Context, f func(*session.Session) error) error {
	res, err := p.pd.Acquire(ctx)
	if err != nil {
		return err
	}
	err = f(res.Value())
	if transportFailed(err) {
		res.Destroy()
	} else {
		res.Release()
	}
	return err
}

// transportFailed reports whether err means the session's channel can no
// longer be used. A *RemoteError is the remote code failing, not the
// transport; a context error leaves the FIFO stream aligned because the
// abandoned response is consumed and discarded by the client.
func transportFailed(err error) bool {
	if err == nil {
		return false
	}
	var rerr *perlssh.RemoteError
	if errors.As(err, &rerr) {
		return false
	}
	if errors.Is(err, perlssh.ErrUnknownReply) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
