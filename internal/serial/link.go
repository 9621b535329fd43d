package serial

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	goserial "go.bug.st/serial"
)

// DefaultBaud matches the gate controller firmware.
const DefaultBaud = 9600

// Open connects to a serial link described by target:
//
//	tcp://host:port     dial a bridge listening on host:port
//	listen://host:port  accept a single connection on host:port
//	/dev/ttyUSB0        open a serial port at baud, 8N1
//
// A baud of zero means DefaultBaud.
func Open(ctx context.Context, target string, baud int) (io.ReadWriteCloser, error) {
	switch {
	case target == "":
		return nil, fmt.Errorf("empty link target")
	case strings.HasPrefix(target, "tcp://"):
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", strings.TrimPrefix(target, "tcp://"))
		if err != nil {
			return nil, fmt.Errorf("dialing link %s: %w", target, err)
		}
		return conn, nil
	case strings.HasPrefix(target, "listen://"):
		return acceptOne(ctx, strings.TrimPrefix(target, "listen://"))
	}
	if baud <= 0 {
		baud = DefaultBaud
	}
	port, err := goserial.Open(target, &goserial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening link device %s: %w", target, err)
	}
	return port, nil
}

func acceptOne(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening for link on %s: %w", addr, err)
	}
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accepting link: %w", err)
	}
	return conn, nil
}

// PipeBuffer is how many bytes an in-process link holds per direction
// before a write waits for the reader.
const PipeBuffer = 64 << 10

// Pipe returns the two ends of an in-process link. Like a UART, each
// direction is buffered, so a write returns as soon as the bytes are queued.
// Closing either end ends both directions once buffered bytes are read.
func Pipe() (kernelEnd, bridgeEnd io.ReadWriteCloser) {
	up, down := newLineBuffer(), newLineBuffer()
	return &pipeEnd{in: down, out: up}, &pipeEnd{in: up, out: down}
}

type pipeEnd struct {
	in, out *lineBuffer
}

func (p *pipeEnd) Read(b []byte) (int, error)  { return p.in.read(b) }
func (p *pipeEnd) Write(b []byte) (int, error) { return p.out.write(b) }

func (p *pipeEnd) Close() error {
	p.in.close()
	p.out.close()
	return nil
}

// lineBuffer is one direction of a Pipe.
type lineBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newLineBuffer() *lineBuffer {
	b := &lineBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (l *lineBuffer) write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for n < len(p) {
		for l.buf.Len() >= PipeBuffer && !l.closed {
			l.cond.Wait()
		}
		if l.closed {
			return n, io.ErrClosedPipe
		}
		chunk := min(len(p)-n, PipeBuffer-l.buf.Len())
		l.buf.Write(p[n : n+chunk])
		n += chunk
		l.cond.Broadcast()
	}
	return n, nil
}

func (l *lineBuffer) read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.buf.Len() == 0 && !l.closed {
		l.cond.Wait()
	}
	if l.buf.Len() == 0 {
		return 0, io.EOF
	}
	n, _ := l.buf.Read(p)
	l.cond.Broadcast()
	return n, nil
}

func (l *lineBuffer) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cond.Broadcast()
}
