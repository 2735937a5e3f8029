// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package session establishes and tears down client sessions: it spawns or
// adopts the byte-stream endpoints, delivers the bootstrap firmware, and
// starts the client service routine.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	perlssh "github.com/gitpan/IPC-PerlSSH-Async"
	"github.com/gitpan/IPC-PerlSSH-Async/channel"
	"github.com/gitpan/IPC-PerlSSH-Async/remote"
)

// A Config describes how to reach the interpreter. Exactly one of the three
// connection forms must be set: a pre-opened endpoint pair (Reader and
// Writer together), a literal command vector, or a remote host spec.
type Config struct {
	// Pre-opened endpoints, e.g. pipes already connected to an interpreter.
	Reader io.Reader
	Writer io.WriteCloser

	// A literal command vector to spawn, e.g. ["perl"].
	Command []string

	// A remote host from which a command vector is derived.
	Remote *remote.Spec

	// Optional logger for protocol anomalies and lifecycle events.
	Log *slog.Logger

	// Optional frame logger, forwarded to the client.
	FrameLog perlssh.FrameLogger
}

// rawChannel is the channel surface the session needs before the client
// takes over: framed traffic plus the raw firmware write.
type rawChannel interface {
	perlssh.Channel
	WriteRaw([]byte) error
}

// checkForm verifies that exactly one connection form is set and reports
// which one, or an error. Configuration errors are synchronous; nothing is
// spawned for an invalid config.
func (c Config) checkForm() (string, error) {
	if (c.Reader == nil) != (c.Writer == nil) {
		return "", errors.New("session: Reader and Writer must be set together")
	}
	var forms []string
	if c.Reader != nil {
		forms = append(forms, "endpoints")
	}
	if c.Command != nil {
		forms = append(forms, "command")
	}
	if c.Remote != nil {
		forms = append(forms, "remote")
	}
	switch len(forms) {
	case 0:
		return "", errors.New("session: no connection form specified")
	case 1:
		return forms[0], nil
	}
	return "", fmt.Errorf("session: conflicting connection forms %v", forms)
}

// Establish connects to an interpreter as described by cfg, writes the
// bootstrap firmware, and starts a client on the resulting channel. On any
// failure no session is returned and nothing is left running.
func Establish(cfg Config) (*Session, error) {
	form, err := cfg.checkForm()
	if err != nil {
		return nil, err
	}

	var ch rawChannel
	var proc *channel.Proc
	switch form {
	case "endpoints":
		ch = channel.IO(cfg.Reader, cfg.Writer)
	case "command", "remote":
		argv := cfg.Command
		if form == "remote" {
			argv, err = cfg.Remote.Command()
			if err != nil {
				return nil, err
			}
		}
		proc, err = channel.Exec(argv)
		if err != nil {
			return nil, err
		}
		ch = proc
	}

	if err := ch.WriteRaw([]byte(perlssh.Firmware)); err != nil {
		ch.Close()
		return nil, fmt.Errorf("session: write firmware: %w", err)
	}

	cl := perlssh.NewClient().SetLog(cfg.Log).LogFrames(cfg.FrameLog).Start(ch)
	if proc != nil && cfg.Log != nil {
		log := cfg.Log
		proc.OnExit(func(err error) {
			if err != nil {
				log.Warn("interpreter exited abnormally", "err", err)
			}
		})
	}
	return &Session{Client: cl, proc: proc}, nil
}

// A Session is a started client together with the process resources backing
// it. Callers issue requests through the embedded [perlssh.Client].
type Session struct {
	*perlssh.Client

	proc *channel.Proc

	once sync.Once
	cerr error
}

// Close stops the client and releases the channel endpoints. It is safe to
// call multiple times; the endpoints are closed exactly once, and Close
// never waits for the child process to exit.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.cerr = s.Client.Stop()
		if s.proc != nil {
			if err := s.proc.Close(); s.cerr == nil {
				s.cerr = err
			}
		}
	})
	return s.cerr
}
