// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package channel_test

import (
	"io"
	"testing"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"

	perlssh "github.com/gitpan/IPC-PerlSSH-Async"
	"github.com/gitpan/IPC-PerlSSH-Async/channel"
)

func TestDirect(t *testing.T) {
	c, s := channel.Direct()

	g := taskgroup.New(nil)
	g.Go(func() error {
		fr := &perlssh.Frame{Tag: perlssh.TagEval, Args: []string{"1 + 1"}}
		if err := c.Send(fr); err != nil {
			t.Errorf("A Send: %v", err)
		}
		got, err := c.Recv()
		if err != nil {
			t.Errorf("A Recv: %v", err)
		}
		if got != fr {
			t.Errorf("Frame: got %v, want %v", got, fr)
		}
		return nil
	})
	g.Go(func() error {
		fr, err := s.Recv()
		if err != nil {
			t.Errorf("B Recv: %v", err)
		}
		if err := s.Send(fr); err != nil {
			t.Errorf("B Send: %v", err)
		}
		return nil
	})
	g.Wait()

	if err := c.Close(); err != nil {
		t.Errorf("c.Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("s.Close: %v", err)
	}

	if err := c.Send(nil); err == nil {
		t.Error("c.Send after close did not report an error")
	}
	if err := s.Send(nil); err == nil {
		t.Error("s.Send after close did not report an error")
	}
	if fr, err := c.Recv(); err == nil {
		t.Errorf("c.Recv after close: got %+v", fr)
	} else {
		t.Logf("Error OK: %v", err)
	}
}

func TestIOChannel(t *testing.T) {
	defer leaktest.Check(t)()

	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := channel.IO(ar, aw)
	b := channel.IO(br, bw)

	in := &perlssh.Frame{Tag: perlssh.TagCall, Args: []string{"greet", "hi\nthere"}}
	g := taskgroup.Go(func() error {
		fr, err := b.Recv()
		if err != nil {
			return err
		}
		if diff := cmp.Diff(in, fr); diff != "" {
			t.Errorf("Received frame (-want, +got):\n%s", diff)
		}
		return b.Send(&perlssh.Frame{Tag: perlssh.TagOK})
	})

	if err := a.Send(in); err != nil {
		t.Fatalf("Send: unexpected error: %v", err)
	}
	got, err := a.Recv()
	if err != nil {
		t.Fatalf("Recv: unexpected error: %v", err)
	}
	if got.Tag != perlssh.TagOK {
		t.Errorf("Recv: got %v, want OK", got)
	}
	if err := g.Wait(); err != nil {
		t.Errorf("Server: unexpected error: %v", err)
	}

	// Closing is idempotent and reports the first result.
	if err := a.Close(); err != nil {
		t.Errorf("Close: unexpected error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Second Close: unexpected error: %v", err)
	}

	// The reader observes the hangup as a clean end of stream.
	if fr, err := b.Recv(); err != io.EOF {
		t.Errorf("Recv after close: got %v, %v; want %v", fr, err, io.EOF)
	}
	b.Close()
}

func TestWriteRaw(t *testing.T) {
	defer leaktest.Check(t)()

	r, w := io.Pipe()
	ch := channel.IO(eofReader{}, w)

	// Raw bytes precede the framed traffic on the same stream, as when the
	// bootstrap program is delivered ahead of the first request.
	g := taskgroup.Go(func() error {
		if err := ch.WriteRaw([]byte("print 'hello';\n__END__\n")); err != nil {
			return err
		}
		if err := ch.Send(&perlssh.Frame{Tag: perlssh.TagEval, Args: []string{"1"}}); err != nil {
			return err
		}
		return w.Close()
	})

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: unexpected error: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Writer: unexpected error: %v", err)
	}

	const want = "print 'hello';\n__END__\nEVAL\n1\n1\n1"
	if got := string(data); got != want {
		t.Errorf("Stream: got %q, want %q", got, want)
	}
}

// An eofReader stands in for the receive endpoint in write-side tests.
type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

func TestProcEcho(t *testing.T) {
	defer leaktest.Check(t)()

	// cat copies stdin to stdout unchanged, so each frame comes right back.
	p, err := channel.Exec([]string{"cat"})
	if err != nil {
		t.Fatalf("Exec: unexpected error: %v", err)
	}

	in := &perlssh.Frame{Tag: perlssh.TagEval, Args: []string{"2 * 21", "x"}}
	if err := p.Send(in); err != nil {
		t.Fatalf("Send: unexpected error: %v", err)
	}
	got, err := p.Recv()
	if err != nil {
		t.Fatalf("Recv: unexpected error: %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("Echoed frame (-want, +got):\n%s", diff)
	}

	// Raw writes pass through the same pipe.
	if err := p.WriteRaw([]byte("RETURNED\n0\n")); err != nil {
		t.Fatalf("WriteRaw: unexpected error: %v", err)
	}
	if got, err := p.Recv(); err != nil || got.Tag != perlssh.TagReturned {
		t.Errorf("Recv: got %v, %v; want RETURNED", got, err)
	}

	// Closing stdin lets cat exit; Close never blocks on the child.
	if err := p.Close(); err != nil {
		t.Errorf("Close: unexpected error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Second Close: unexpected error: %v", err)
	}

	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the child to exit")
	}
}

func TestProcOnExit(t *testing.T) {
	defer leaktest.Check(t)()

	p, err := channel.Exec([]string{"cat"})
	if err != nil {
		t.Fatalf("Exec: unexpected error: %v", err)
	}

	exited := make(chan error, 1)
	p.OnExit(func(err error) { exited <- err })

	if err := p.Close(); err != nil {
		t.Errorf("Close: unexpected error: %v", err)
	}
	select {
	case err := <-exited:
		if err != nil {
			t.Errorf("Exit callback got an unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the exit callback")
	}

	// Registration after exit fires immediately.
	late := make(chan error, 1)
	p.OnExit(func(err error) { late <- err })
	select {
	case <-late:
	default:
		t.Error("Late OnExit registration did not fire immediately")
	}
}

func TestExecErrors(t *testing.T) {
	defer leaktest.Check(t)()

	if p, err := channel.Exec(nil); err == nil {
		p.Close()
		t.Error("Exec(nil) did not report an error")
	}
	if p, err := channel.Exec([]string{"definitely/not/a/command"}); err == nil {
		p.Close()
		t.Error("Exec of a missing binary did not report an error")
	} else {
		t.Logf("Error OK: %v", err)
	}
}
