package message

import (
	"errors"
	"fmt"
	"strings"
)

// Wire defaults.
const (
	DefaultFieldSeparator = "::"
	DefaultItemSeparator  = ","
	DefaultTerminator     = "\n"
	DefaultMaxItems       = 10
)

// ErrTooManyItems is returned when a frame carries more items than the codec allows.
var ErrTooManyItems = errors.New("too many items")

// Message is one decoded frame: a lowercased label and its ordered items.
type Message struct {
	Label string
	Items []string
}

// New creates a Message from a label and items.
func New(label string, items ...string) Message {
	return Message{Label: label, Items: items}
}

// Equal reports whether two messages carry the same label and items.
func (m Message) Equal(other Message) bool {
	if m.Label != other.Label || len(m.Items) != len(other.Items) {
		return false
	}
	for i := range m.Items {
		if m.Items[i] != other.Items[i] {
			return false
		}
	}
	return true
}

func (m Message) String() string {
	if len(m.Items) == 0 {
		return m.Label
	}
	return fmt.Sprintf("%s [%s]", m.Label, strings.Join(m.Items, " "))
}

// Codec splits frames into messages and joins them back. Zero fields
// take the package defaults.
type Codec struct {
	FieldSeparator string
	ItemSeparator  string
	MaxItems       int
}

// DefaultCodec returns a Codec with the default separators and item cap.
func DefaultCodec() Codec {
	return Codec{
		FieldSeparator: DefaultFieldSeparator,
		ItemSeparator:  DefaultItemSeparator,
		MaxItems:       DefaultMaxItems,
	}
}

// Decode parses one frame with its terminator already stripped.
//
// The label is everything before the first field separator, cut at its
// last carriage return and lowercased. Without a field separator the whole
// frame is the label and there are no items. Otherwise the item region is
// split on the item separator and always yields at least one (possibly
// empty) item.
func (c Codec) Decode(frame string) (Message, error) {
	labelRegion, itemRegion, found := strings.Cut(frame, c.fieldSeparator())

	msg := Message{Label: normalizeLabel(labelRegion)}
	if !found {
		return msg, nil
	}

	limit := c.maxItems()
	sep := c.itemSeparator()
	items := make([]string, 0, min(strings.Count(itemRegion, sep)+1, limit))
	for item := range strings.SplitSeq(itemRegion, sep) {
		if len(items) == limit {
			return Message{}, fmt.Errorf("%w: %q exceeds %d items", ErrTooManyItems, msg.Label, limit)
		}
		items = append(items, item)
	}
	msg.Items = items

	return msg, nil
}

// Encode serializes msg without a terminator. The field separator is
// omitted when there are no items.
func (c Codec) Encode(msg Message) string {
	if len(msg.Items) == 0 {
		return msg.Label
	}

	var sb strings.Builder
	sb.WriteString(msg.Label)
	sb.WriteString(c.fieldSeparator())
	sep := c.itemSeparator()
	for i, item := range msg.Items {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(item)
	}
	return sb.String()
}

func (c Codec) fieldSeparator() string {
	if c.FieldSeparator == "" {
		return DefaultFieldSeparator
	}
	return c.FieldSeparator
}

func (c Codec) itemSeparator() string {
	if c.ItemSeparator == "" {
		return DefaultItemSeparator
	}
	return c.ItemSeparator
}

func (c Codec) maxItems() int {
	if c.MaxItems <= 0 {
		return DefaultMaxItems
	}
	return c.MaxItems
}

func normalizeLabel(label string) string {
	if i := strings.LastIndexByte(label, '\r'); i >= 0 {
		label = label[:i]
	}
	return strings.ToLower(label)
}
