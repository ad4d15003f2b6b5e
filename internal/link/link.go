package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/bigbag/msgframer/internal/framer"
	"github.com/bigbag/msgframer/internal/message"
)

// ErrTimeout is returned when no complete message arrives in time.
var ErrTimeout = errors.New("timeout waiting for message")

// pollInterval bounds each read so deadlines and cancellation are honoured.
const pollInterval = 100 * time.Millisecond

// Port is the byte stream a Link talks over. A read that times out
// returns 0, nil.
type Port interface {
	io.Writer
	ReadWithTimeout(buf []byte, timeout time.Duration) (int, error)
}

// ProgressCallback is called to report replay progress.
type ProgressCallback func(current, total int)

// Handler receives each decoded message during Monitor.
type Handler func(msg message.Message)

// Link exchanges messages with a device over a Port.
type Link struct {
	port     Port
	framer   *framer.Framer
	log      zerolog.Logger
	progress ProgressCallback
	chunk    []byte
}

// New creates a Link. The Framer must not be shared with another stream.
func New(port Port, f *framer.Framer, logger zerolog.Logger) *Link {
	return &Link{
		port:   port,
		framer: f,
		log:    logger,
		chunk:  make([]byte, 256),
	}
}

// Framer returns the Link's Framer.
func (l *Link) Framer() *framer.Framer {
	return l.framer
}

// SetProgressCallback sets the progress callback function.
func (l *Link) SetProgressCallback(cb ProgressCallback) {
	l.progress = cb
}

// reportProgress calls the progress callback if set.
func (l *Link) reportProgress(current, total int) {
	if l.progress != nil {
		l.progress(current, total)
	}
}

// Send encodes msg, appends the terminator and writes it.
func (l *Link) Send(msg message.Message) error {
	data := l.framer.Frame(msg)
	n, err := l.port.Write(data)
	if err != nil {
		return fmt.Errorf("write %q: %w", msg.Label, err)
	}
	if n != len(data) {
		return fmt.Errorf("partial write: expected %d bytes, wrote %d", len(data), n)
	}

	l.log.Debug().Str("label", msg.Label).Strs("items", msg.Items).Int("bytes", n).Msg("sent")
	return nil
}

// Receive returns the next decoded message. Frames already buffered are
// returned before reading the port. A frame that fails to decode is
// consumed and its error returned; the next call moves on.
func (l *Link) Receive(timeout time.Duration) (message.Message, error) {
	msg, ok, err := l.feed(nil)
	if err != nil || ok {
		return msg, err
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return message.Message{}, fmt.Errorf("%w after %s (%d bytes buffered)", ErrTimeout, timeout, l.framer.Buffered())
		}

		n, err := l.port.ReadWithTimeout(l.chunk, min(remaining, pollInterval))
		if err != nil {
			return message.Message{}, fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			continue
		}

		msg, ok, err := l.feed(l.chunk[:n])
		if err != nil || ok {
			return msg, err
		}
	}
}

// Request sends msg and waits for the reply.
func (l *Link) Request(msg message.Message, timeout time.Duration) (message.Message, error) {
	if err := l.Send(msg); err != nil {
		return message.Message{}, err
	}
	return l.Receive(timeout)
}

// Replay sends msgs in order, pausing gap between them.
func (l *Link) Replay(msgs []message.Message, gap time.Duration) error {
	for i, msg := range msgs {
		if err := l.Send(msg); err != nil {
			return fmt.Errorf("replay message %d: %w", i+1, err)
		}
		l.reportProgress(i+1, len(msgs))

		if gap > 0 && i < len(msgs)-1 {
			time.Sleep(gap)
		}
	}
	return nil
}

// Monitor delivers every decoded message to handle until ctx is done or
// the port fails. Bad frames are logged and skipped.
func (l *Link) Monitor(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := l.port.ReadWithTimeout(l.chunk, pollInterval)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			continue
		}

		for msg, err := range l.framer.Messages(l.chunk[:n]) {
			if err != nil {
				l.log.Warn().Err(err).Msg("dropped frame")
				continue
			}
			l.log.Debug().Str("label", msg.Label).Strs("items", msg.Items).Msg("received")
			handle(msg)
		}
	}
}

// feed passes data to the Framer and logs the outcome.
func (l *Link) feed(data []byte) (message.Message, bool, error) {
	msg, ok, err := l.framer.Feed(data)
	if err != nil {
		l.log.Warn().Err(err).Msg("dropped frame")
		return message.Message{}, false, err
	}
	if ok {
		l.log.Debug().Str("label", msg.Label).Strs("items", msg.Items).Msg("received")
	}
	return msg, ok, nil
}
