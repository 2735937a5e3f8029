// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package perlssh

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Frame is the parsed form of one complete protocol unit exchanged with the
// remote interpreter: a tag naming the message kind, and a flat sequence of
// string arguments. The wire protocol carries no request identifier; callers
// rely on the channel delivering frames strictly in order.
type Frame struct {
	Tag  string
	Args []string
}

// Request tags sent to the remote interpreter.
const (
	TagEval  = "EVAL"  // evaluate code: args are code, arguments...
	TagStore = "STORE" // store a named function: args are name, code
	TagCall  = "CALL"  // invoke a stored function: args are name, arguments...
)

// Response tags received from the remote interpreter.
const (
	TagReturned = "RETURNED" // success: args are the returned values
	TagOK       = "OK"       // success with no values (reply to STORE)
	TagDied     = "DIED"     // failure: args are a single error message
)

// Frame size guards. A frame that exceeds these limits is treated as a
// protocol fatal error by the decoder.
const (
	maxTagLen = 64       // bytes in a tag
	maxArgs   = 1 << 20  // arguments per frame
	maxArgLen = 64 << 20 // bytes per argument
)

// Encode encodes f in wire format.
func (f *Frame) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 16+8*len(f.Args)))
	if _, err := f.WriteTo(buf); err != nil {
		panic(fmt.Errorf("encoding frame: %w", err))
	}
	return buf.Bytes()
}

// WriteTo writes the frame to w in wire format. It satisfies io.WriterTo.
//
// The format is line oriented so that the remote bootstrap can decode it with
// plain filehandle reads: the tag on one line, the number of arguments on the
// next, then for each argument its byte length on a line followed by exactly
// that many raw bytes. Argument bytes are not escaped and may contain
// newlines; the length prefix delimits them.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	if err := checkTag(f.Tag); err != nil {
		return 0, err
	}
	buf := make([]byte, 0, 16+len(f.Tag))
	buf = append(buf, f.Tag...)
	buf = append(buf, '\n')
	buf = strconv.AppendInt(buf, int64(len(f.Args)), 10)
	buf = append(buf, '\n')
	nw, err := w.Write(buf)
	total := int64(nw)
	if err != nil {
		return total, err
	}
	for _, arg := range f.Args {
		buf = strconv.AppendInt(buf[:0], int64(len(arg)), 10)
		buf = append(buf, '\n')
		buf = append(buf, arg...)
		nw, err = w.Write(buf)
		total += int64(nw)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadFrom reads one complete frame from r in wire format. It satisfies
// io.ReaderFrom.
//
// If r does not implement io.ByteReader it is wrapped in a bufio.Reader, and
// the wrapper may consume bytes beyond the end of the frame; callers that
// decode successive frames from one stream should pass a buffered reader.
//
// At a clean frame boundary with no further input, ReadFrom reports io.EOF.
// End of input inside a frame reports an error wrapping io.ErrUnexpectedEOF.
func (f *Frame) ReadFrom(r io.Reader) (int64, error) {
	br, ok := r.(interface {
		io.Reader
		io.ByteReader
	})
	if !ok {
		br = bufio.NewReader(r)
	}

	var nr int64
	tag, err := readLine(br, &nr, maxTagLen)
	if err != nil {
		if nr == 0 {
			return 0, err // end of stream at a frame boundary
		}
		return nr, fmt.Errorf("short frame tag: %w", noEOF(err))
	}
	if err := checkTag(tag); err != nil {
		return nr, err
	}

	nargs, err := readCount(br, &nr, maxArgs)
	if err != nil {
		return nr, fmt.Errorf("invalid argument count: %w", noEOF(err))
	}

	f.Tag = tag
	f.Args = nil
	if nargs > 0 {
		f.Args = make([]string, 0, nargs)
	}
	for i := 0; i < nargs; i++ {
		alen, err := readCount(br, &nr, maxArgLen)
		if err != nil {
			return nr, fmt.Errorf("invalid argument length: %w", noEOF(err))
		}
		data := make([]byte, alen)
		np, err := io.ReadFull(br, data)
		nr += int64(np)
		if err != nil {
			return nr, fmt.Errorf("short argument: %w", noEOF(err))
		}
		f.Args = append(f.Args, string(data))
	}
	return nr, nil
}

// String returns a human-friendly rendering of the frame.
func (f *Frame) String() string {
	if len(f.Args) == 0 {
		return fmt.Sprintf("Frame(%s)", f.Tag)
	}
	args := make([]string, len(f.Args))
	for i, arg := range f.Args {
		args[i] = strconv.Quote(clip(arg, 32))
	}
	return fmt.Sprintf("Frame(%s, %s)", f.Tag, strings.Join(args, ", "))
}

// checkTag reports whether tag is a valid frame tag: non-empty, within the
// length bound, and free of newlines.
func checkTag(tag string) error {
	if tag == "" || len(tag) > maxTagLen {
		return fmt.Errorf("invalid frame tag (%d bytes)", len(tag))
	}
	if strings.ContainsAny(tag, "\r\n") {
		return fmt.Errorf("invalid frame tag %q", tag)
	}
	return nil
}

// readLine reads bytes from br up to a newline, not including the newline,
// accumulating the total read into *nr. Lines longer than limit are an error.
func readLine(br io.ByteReader, nr *int64, limit int) (string, error) {
	var line []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		*nr++
		if b == '\n' {
			return string(line), nil
		}
		if len(line) >= limit {
			return "", fmt.Errorf("line exceeds %d bytes", limit)
		}
		line = append(line, b)
	}
}

// readCount reads one line and parses it as a non-negative decimal count no
// greater than limit.
func readCount(br io.ByteReader, nr *int64, limit int) (int, error) {
	line, err := readLine(br, nr, 20)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(line, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q", line)
	}
	if v > uint64(limit) {
		return 0, fmt.Errorf("count %d exceeds limit %d", v, limit)
	}
	return int(v), nil
}

// noEOF converts a bare io.EOF into io.ErrUnexpectedEOF. A frame that ends
// mid-parse is truncated, not a clean end of stream.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// clip returns a prefix of a UTF-8 string s having length no greater than n
// bytes, with a trailing ellipsis when anything was removed. If s exceeds the
// length, it is truncated at a point ≤ n so that the result does not end in a
// partial UTF-8 encoding.
func clip(s string, n int) string {
	if n >= len(s) {
		return s
	}

	// Back up until we find the beginning of a UTF-8 encoding.
	for n > 0 && s[n-1]&0xc0 == 0x80 { // 0x10... is a continuation byte
		n--
	}

	// If we're at the beginning of a multi-byte encoding, back up one more to
	// skip it. It's possible the value was already complete, but it's simpler
	// if we only have to check in one direction.
	if n > 0 && s[n-1]&0xc0 == 0xc0 { // 0x11... starts a multibyte encoding
		n--
	}
	return s[:n] + "..."
}
