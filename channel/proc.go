// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creachadair/taskgroup"
	perlssh "github.com/gitpan/IPC-PerlSSH-Async"
)

// Exec spawns the command described by argv as a child process with piped
// stdio and returns a channel connected to it. The parent retains only its
// own pipe ends; the child-side descriptors are released at spawn. Standard
// error of the child passes through to the standard error of the caller.
//
// On spawn failure no process is left behind and no Proc is returned.
func Exec(argv []string) (*Proc, error) {
	if len(argv) == 0 {
		return nil, errors.New("exec: empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("exec: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("exec: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("exec: spawn %q: %w", argv[0], err)
	}

	p := &Proc{
		cmd:    cmd,
		io:     IO(stdout, stdin),
		stdout: stdout,
		exited: make(chan struct{}),
	}

	// Reap the child in the background so teardown never has to block on
	// process exit, and so an unexpected exit is observed promptly.
	taskgroup.Go(func() error {
		err := cmd.Wait()
		p.μ.Lock()
		p.exitErr = err
		f := p.onExit
		close(p.exited)
		p.μ.Unlock()
		if f != nil {
			f(err)
		}
		return nil
	})
	return p, nil
}

// A Proc is a channel connected to the piped stdio of a spawned child
// process. It implements the [perlssh.Channel] interface. Closing a Proc
// releases both pipe endpoints exactly once and never waits for the child to
// exit; the child is reaped by a background routine.
type Proc struct {
	cmd    *exec.Cmd
	io     *IOChannel
	stdout io.Closer

	once sync.Once
	cerr error

	μ       sync.Mutex
	onExit  func(error)
	exitErr error
	exited  chan struct{}
}

// Send implements a method of the [perlssh.Channel] interface.
func (p *Proc) Send(fr *perlssh.Frame) error { return p.io.Send(fr) }

// Recv implements a method of the [perlssh.Channel] interface.
func (p *Proc) Recv() (*perlssh.Frame, error) { return p.io.Recv() }

// WriteRaw writes data to the child's standard input outside the frame
// format. It is used to deliver the bootstrap firmware.
func (p *Proc) WriteRaw(data []byte) error { return p.io.WriteRaw(data) }

// Close closes both pipe endpoints. It is safe to call multiple times and
// from multiple goroutines; the endpoints are closed exactly once and
// repeated calls report the first result. Close does not wait for the child
// process to exit.
func (p *Proc) Close() error {
	p.once.Do(func() {
		err := p.io.Close() // child's stdin; lets a well-behaved child exit
		if cerr := p.stdout.Close(); err == nil {
			err = cerr
		}
		p.cerr = err
	})
	return p.cerr
}

// OnExit registers a callback to be invoked when the child process exits,
// with the error reported by its wait status (nil for a clean exit). If the
// child has already exited, the callback is invoked immediately. Only one
// exit callback can be registered at a time.
func (p *Proc) OnExit(f func(error)) {
	p.μ.Lock()
	select {
	case <-p.exited:
		err := p.exitErr
		p.μ.Unlock()
		if f != nil {
			f(err)
		}
		return
	default:
	}
	p.onExit = f
	p.μ.Unlock()
}

// Exited returns a channel that is closed once the child process has been
// reaped.
func (p *Proc) Exited() <-chan struct{} { return p.exited }
