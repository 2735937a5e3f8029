// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the perlssh.Channel interface.
package channel

import (
	"bufio"
	"io"
	"net"
	"sync"

	perlssh "github.com/gitpan/IPC-PerlSSH-Async"
)

// Direct constructs a connected pair of in-memory channels that pass frames
// directly without encoding into wire format. Frames sent to A are received
// by B and vice versa.
func Direct() (A, B perlssh.Channel) {
	a2b := make(chan *perlssh.Frame)
	b2a := make(chan *perlssh.Frame)
	A = direct{a2b: a2b, b2a: b2a}
	B = direct{a2b: b2a, b2a: a2b}
	return
}

type direct struct {
	a2b chan<- *perlssh.Frame
	b2a <-chan *perlssh.Frame
}

// Send implements a method of the [perlssh.Channel] interface.
func (d direct) Send(fr *perlssh.Frame) (err error) {
	defer safeClose(&err)
	d.a2b <- fr
	return nil
}

// Recv implements a method of the [perlssh.Channel] interface.
func (d direct) Recv() (*perlssh.Frame, error) {
	fr, ok := <-d.b2a
	if !ok {
		return nil, net.ErrClosed
	}
	return fr, nil
}

// Close implements a method of the [perlssh.Channel] interface.
func (d direct) Close() (err error) {
	defer safeClose(&err)
	close(d.a2b)
	return nil
}

func safeClose(err *error) {
	if x := recover(); x != nil && *err == nil {
		*err = net.ErrClosed
	}
}

// IO constructs a channel that receives frames from r and sends frames to wc.
func IO(r io.Reader, wc io.WriteCloser) *IOChannel {
	// N.B. The bufio package will reuse existing buffers if possible.
	return &IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// An IOChannel sends and receives frames on a reader and a writer.
type IOChannel struct {
	r *bufio.Reader
	w *bufio.Writer
	c io.Closer

	once sync.Once
	cerr error
}

// Send implements a method of the [perlssh.Channel] interface.
func (c *IOChannel) Send(fr *perlssh.Frame) error {
	if _, err := fr.WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [perlssh.Channel] interface.
func (c *IOChannel) Recv() (*perlssh.Frame, error) {
	fr := new(perlssh.Frame)
	if _, err := fr.ReadFrom(c.r); err != nil {
		return nil, err
	}
	return fr, nil
}

// WriteRaw writes data to the write endpoint outside the frame format, and
// flushes it. It is used to deliver the bootstrap firmware before framed
// traffic begins, and must not be called once frames are in flight.
func (c *IOChannel) WriteRaw(data []byte) error {
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	return c.w.Flush()
}

// Close implements a method of the [perlssh.Channel] interface. The write
// endpoint is closed exactly once; repeated calls report the first result.
func (c *IOChannel) Close() error {
	c.once.Do(func() { c.cerr = c.c.Close() })
	return c.cerr
}
