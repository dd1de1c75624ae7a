package klipper

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

var ErrTransportClosed = errors.New("klipper: transport closed")

// Transport is the host side of the Klipper link.
// It sends one command at a time, waits for the MCU's ACK, and queues
// every non-empty frame the MCU sends as a response.
type Transport struct {
	port io.ReadWriteCloser
	log  *slog.Logger

	// Serializes Send; the sequence is owned by the sender
	sendMu sync.Mutex
	seq    byte

	acks      chan Frame
	responses chan Frame

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewTransport starts the background reader on port
func NewTransport(port io.ReadWriteCloser, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	t := &Transport{
		port:      port,
		log:       log,
		seq:       DestBit,
		acks:      make(chan Frame, 1),
		responses: make(chan Frame, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Send frames payload, writes it, and waits for the ACK carrying the next
// sequence number
func (t *Transport) Send(payload []byte, timeout time.Duration) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	select {
	case <-t.stop:
		return ErrTransportClosed
	default:
	}

	msg, err := EncodeFrame(t.seq, payload)
	if err != nil {
		return err
	}

	// Drop a stale ACK left by a timed-out exchange
	select {
	case <-t.acks:
	default:
	}

	n, err := t.port.Write(msg)
	if err != nil {
		return fmt.Errorf("klipper: write: %w", err)
	}
	if n != len(msg) {
		return fmt.Errorf("klipper: incomplete write: %d/%d bytes", n, len(msg))
	}

	want := NextSeq(t.seq)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-t.acks:
			if ack.Seq != want {
				t.log.Debug("ignoring ack", "seq", ack.Seq, "want", want)
				continue
			}
			t.seq = want
			return nil
		case <-timer.C:
			return fmt.Errorf("klipper: ACK timeout after %v", timeout)
		case <-t.stop:
			return ErrTransportClosed
		}
	}
}

// Receive returns the next response frame
func (t *Transport) Receive(timeout time.Duration) (Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-t.responses:
		return f, nil
	case <-timer.C:
		return Frame{}, fmt.Errorf("klipper: response timeout after %v", timeout)
	case <-t.stop:
		return Frame{}, ErrTransportClosed
	}
}

// Close stops the reader and closes the port
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}

func (t *Transport) readLoop() {
	defer close(t.done)

	p := newParser()
	buf := make([]byte, 256)
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if n > 0 {
			for _, f := range p.feed(buf[:n]) {
				t.dispatch(f)
			}
		}
		if err != nil {
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				return
			}
			// Serial read timeouts surface as io.EOF; keep polling until stopped
			if !errors.Is(err, io.EOF) {
				t.log.Debug("serial read failed", "err", err)
			}
			select {
			case <-t.stop:
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

// dispatch hands every frame's sequence to the ACK waiter; the MCU
// acknowledges with empty frames and also stamps responses with its next
// expected sequence
func (t *Transport) dispatch(f Frame) {
	ack := Frame{Seq: f.Seq}
	select {
	case t.acks <- ack:
	default:
		// Replace the unread ACK with the newer one
		select {
		case <-t.acks:
		default:
		}
		t.acks <- ack
	}

	if len(f.Payload) == 0 {
		return
	}

	select {
	case t.responses <- f:
	default:
		t.log.Warn("response queue full, dropping oldest")
		select {
		case <-t.responses:
		default:
		}
		t.responses <- f
	}
}
