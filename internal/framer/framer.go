// Package framer turns a chunked byte stream into delimited text messages
// and back.
//
// A Framer owns its accumulation buffer. It is not safe for concurrent use;
// give each stream its own Framer.
package framer

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/bigbag/msgframer/internal/frame"
	"github.com/bigbag/msgframer/internal/message"
)

var (
	// ErrEmptySeparator is returned when a separator or the terminator is empty.
	ErrEmptySeparator = errors.New("separator must not be empty")
	// ErrAmbiguousSeparators is returned when separators overlap in a way
	// that makes the terminator scan or the field split ambiguous.
	ErrAmbiguousSeparators = errors.New("ambiguous separators")
)

// Config fixes the wire format of a Framer.
type Config struct {
	FieldSeparator string
	ItemSeparator  string
	Terminator     string
	MaxItems       int
	MaxBufferSize  int
}

// DefaultConfig returns the "label::a,b\n" wire format.
func DefaultConfig() Config {
	return Config{
		FieldSeparator: message.DefaultFieldSeparator,
		ItemSeparator:  message.DefaultItemSeparator,
		Terminator:     message.DefaultTerminator,
		MaxItems:       message.DefaultMaxItems,
		MaxBufferSize:  frame.DefaultMaxBufferSize,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FieldSeparator == "" {
		c.FieldSeparator = def.FieldSeparator
	}
	if c.ItemSeparator == "" {
		c.ItemSeparator = def.ItemSeparator
	}
	if c.Terminator == "" {
		c.Terminator = def.Terminator
	}
	if c.MaxItems == 0 {
		c.MaxItems = def.MaxItems
	}
	if c.MaxBufferSize == 0 {
		c.MaxBufferSize = def.MaxBufferSize
	}
	return c
}

// Validate checks that the separators can be told apart.
func (c Config) Validate() error {
	switch {
	case c.FieldSeparator == "":
		return fmt.Errorf("field separator: %w", ErrEmptySeparator)
	case c.ItemSeparator == "":
		return fmt.Errorf("item separator: %w", ErrEmptySeparator)
	case c.Terminator == "":
		return fmt.Errorf("terminator: %w", ErrEmptySeparator)
	}

	if strings.HasPrefix(c.FieldSeparator, c.Terminator) || strings.HasPrefix(c.Terminator, c.FieldSeparator) {
		return fmt.Errorf("%w: terminator %q and field separator %q", ErrAmbiguousSeparators, c.Terminator, c.FieldSeparator)
	}
	if c.ItemSeparator == c.FieldSeparator {
		return fmt.Errorf("%w: item and field separator are both %q", ErrAmbiguousSeparators, c.FieldSeparator)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max items must not be negative, got %d", c.MaxItems)
	}
	if c.MaxBufferSize < 0 {
		return fmt.Errorf("max buffer size must not be negative, got %d", c.MaxBufferSize)
	}
	return nil
}

// Framer accumulates fragments into frames and decodes them.
type Framer struct {
	cfg   Config
	codec message.Codec
	acc   *frame.Accumulator
}

// New creates a Framer. Zero fields in cfg take their defaults.
func New(cfg Config) (*Framer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Framer{
		cfg: cfg,
		codec: message.Codec{
			FieldSeparator: cfg.FieldSeparator,
			ItemSeparator:  cfg.ItemSeparator,
			MaxItems:       cfg.MaxItems,
		},
		acc: frame.NewAccumulator([]byte(cfg.Terminator), cfg.MaxBufferSize),
	}, nil
}

// Default creates a Framer with DefaultConfig.
func Default() *Framer {
	f, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return f
}

// Config returns the Framer's effective configuration.
func (f *Framer) Config() Config {
	return f.cfg
}

// Feed appends fragment and decodes at most one complete message.
// ok is false while no full frame is buffered. A frame that fails to
// decode is still consumed, so the next call continues with the frame
// after it.
func (f *Framer) Feed(fragment []byte) (msg message.Message, ok bool, err error) {
	raw, ok, err := f.acc.Next(fragment)
	if err != nil || !ok {
		return message.Message{}, false, err
	}

	msg, err = f.codec.Decode(string(raw))
	if err != nil {
		return message.Message{}, false, err
	}
	return msg, true, nil
}

// FeedString is Feed for text fragments.
func (f *Framer) FeedString(fragment string) (message.Message, bool, error) {
	return f.Feed([]byte(fragment))
}

// Messages feeds fragment and then drains every complete frame buffered so
// far. Decode errors are yielded alongside a zero Message and do not stop
// the iteration.
func (f *Framer) Messages(fragment []byte) iter.Seq2[message.Message, error] {
	return func(yield func(message.Message, error) bool) {
		next := fragment
		for {
			msg, ok, err := f.Feed(next)
			next = nil
			switch {
			case err != nil:
				if !yield(message.Message{}, err) {
					return
				}
			case ok:
				if !yield(msg, nil) {
					return
				}
			default:
				return
			}
		}
	}
}

// Encode serializes msg without the terminator.
func (f *Framer) Encode(msg message.Message) string {
	return f.codec.Encode(msg)
}

// Frame serializes msg and appends the terminator, ready for transmission.
func (f *Framer) Frame(msg message.Message) []byte {
	return []byte(f.codec.Encode(msg) + f.cfg.Terminator)
}

// Decode parses a single frame that has no terminator.
func (f *Framer) Decode(raw string) (message.Message, error) {
	return f.codec.Decode(raw)
}

// Buffered returns the number of bytes waiting for a terminator.
func (f *Framer) Buffered() int {
	return f.acc.Buffered()
}

// Reset discards any partially received data.
func (f *Framer) Reset() {
	f.acc.Reset()
}
