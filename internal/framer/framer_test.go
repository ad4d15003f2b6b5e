package framer

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/bigbag/msgframer/internal/frame"
	"github.com/bigbag/msgframer/internal/message"
)

func TestNew_Defaults(t *testing.T) {
	f, err := New(Config{})
	if err != nil {
		t.Fatalf("New(Config{}) error = %v", err)
	}
	if f.Config() != DefaultConfig() {
		t.Errorf("Config() = %+v, want %+v", f.Config(), DefaultConfig())
	}
}

func TestNew_AmbiguousSeparators(t *testing.T) {
	testCases := []Config{
		{FieldSeparator: "\n", Terminator: "\n"},
		{FieldSeparator: "\r\n", Terminator: "\r"},
		{FieldSeparator: ":", Terminator: "::"},
		{FieldSeparator: ",", ItemSeparator: ","},
	}

	for i, tc := range testCases {
		if _, err := New(tc); !errors.Is(err, ErrAmbiguousSeparators) {
			t.Errorf("Case %d: New(%+v) error = %v, want ErrAmbiguousSeparators", i, tc, err)
		}
	}
}

func TestConfig_ValidateEmpty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Terminator = ""
	if err := cfg.Validate(); !errors.Is(err, ErrEmptySeparator) {
		t.Errorf("Validate() error = %v, want ErrEmptySeparator", err)
	}
}

func TestConfig_ValidateNegativeLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxItems = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with negative MaxItems error = nil")
	}
}

func TestFeed_SingleMessage(t *testing.T) {
	f := Default()
	msg, ok, err := f.FeedString("STATE::x\n")
	if err != nil || !ok {
		t.Fatalf("FeedString() = %v, %v, %v", msg, ok, err)
	}
	if !msg.Equal(message.New("state", "x")) {
		t.Errorf("FeedString() = %v, want state [x]", msg)
	}
}

func TestFeed_Incomplete(t *testing.T) {
	f := Default()
	_, ok, err := f.FeedString("STATE::x")
	if ok || err != nil {
		t.Errorf("FeedString(partial) ok = %v, err = %v, want false, nil", ok, err)
	}
	if f.Buffered() != len("STATE::x") {
		t.Errorf("Buffered() = %d, want %d", f.Buffered(), len("STATE::x"))
	}
}

func TestFeed_MultipleFramesInOneFragment(t *testing.T) {
	f := Default()

	msg, ok, _ := f.FeedString("A::1\nB::2\n")
	if !ok || !msg.Equal(message.New("a", "1")) {
		t.Fatalf("first FeedString() = %v, %v, want a [1]", msg, ok)
	}

	msg, ok, _ = f.FeedString("")
	if !ok || !msg.Equal(message.New("b", "2")) {
		t.Fatalf("second FeedString() = %v, %v, want b [2]", msg, ok)
	}

	if _, ok, _ = f.FeedString(""); ok {
		t.Error("third FeedString() ok = true, want false")
	}
}

func TestFeed_NoItems(t *testing.T) {
	f := Default()
	msg, ok, _ := f.FeedString("ping\n")
	if !ok || msg.Label != "ping" || len(msg.Items) != 0 {
		t.Errorf("FeedString(ping) = %v, %v, want ping with no items", msg, ok)
	}
}

func TestFeed_LeadingTerminatorYieldsEmptyMessage(t *testing.T) {
	f := Default()
	msg, ok, err := f.FeedString("\n")
	if err != nil || !ok {
		t.Fatalf("FeedString(\\n) ok = %v, err = %v, want true, nil", ok, err)
	}
	if !msg.Equal(message.New("")) {
		t.Errorf("FeedString(\\n) = %v, want empty message", msg)
	}
	if f.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", f.Buffered())
	}

	msg, ok, _ = f.FeedString("ping\n")
	if !ok || msg.Label != "ping" {
		t.Errorf("FeedString after empty frame = %v, %v, want ping", msg, ok)
	}
}

func TestFeed_EmptyMessageRoundTrip(t *testing.T) {
	f := Default()
	wire := f.Frame(message.New(""))
	if string(wire) != "\n" {
		t.Fatalf("Frame(empty) = %q, want %q", wire, "\n")
	}

	msg, ok, err := f.Feed(wire)
	if err != nil || !ok {
		t.Fatalf("Feed(%q) ok = %v, err = %v, want true, nil", wire, ok, err)
	}
	if !msg.Equal(message.New("")) {
		t.Errorf("Feed(%q) = %v, want empty message", wire, msg)
	}
}

func TestFeed_TooManyItemsAdvancesStream(t *testing.T) {
	f, err := New(Config{MaxItems: 2})
	if err != nil {
		t.Fatal(err)
	}

	_, ok, err := f.FeedString("x::1,2,3\ny::1\n")
	if !errors.Is(err, message.ErrTooManyItems) {
		t.Fatalf("FeedString() error = %v, want ErrTooManyItems", err)
	}
	if ok {
		t.Error("FeedString() ok = true on overflow")
	}

	msg, ok, err := f.FeedString("")
	if err != nil || !ok || !msg.Equal(message.New("y", "1")) {
		t.Errorf("FeedString() after overflow = %v, %v, %v, want y [1]", msg, ok, err)
	}
}

func TestFeed_BufferLimit(t *testing.T) {
	f, err := New(Config{MaxBufferSize: 16})
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = f.FeedString(strings.Repeat("x", 17))
	if !errors.Is(err, frame.ErrBufferLimitExceeded) {
		t.Fatalf("FeedString() error = %v, want ErrBufferLimitExceeded", err)
	}

	msg, ok, err := f.FeedString("ok\n")
	if err != nil || !ok || msg.Label != "ok" {
		t.Errorf("FeedString() after limit = %v, %v, %v, want ok", msg, ok, err)
	}
}

func TestMessages_DrainsAll(t *testing.T) {
	f, _ := New(Config{MaxItems: 1})

	var got []message.Message
	var errs int
	for msg, err := range f.Messages([]byte("a::1\nb::1,2\nc\nd")) {
		if err != nil {
			errs++
			continue
		}
		got = append(got, msg)
	}

	if errs != 1 {
		t.Errorf("Messages() errors = %d, want 1", errs)
	}
	if len(got) != 2 || got[0].Label != "a" || got[1].Label != "c" {
		t.Errorf("Messages() = %v, want [a c]", got)
	}
	if f.Buffered() != 1 {
		t.Errorf("Buffered() = %d, want 1", f.Buffered())
	}
}

func TestMessages_StopEarly(t *testing.T) {
	f := Default()
	for range f.Messages([]byte("a\nb\n")) {
		break
	}

	msg, ok, _ := f.FeedString("")
	if !ok || msg.Label != "b" {
		t.Errorf("FeedString() after early stop = %v, %v, want b", msg, ok)
	}
}

func TestEncode_NoItems(t *testing.T) {
	if got := Default().Encode(message.New("ping")); got != "ping" {
		t.Errorf("Encode() = %q, want %q", got, "ping")
	}
}

func TestFrame_AppendsTerminator(t *testing.T) {
	f, _ := New(Config{Terminator: "\r\n"})
	got := string(f.Frame(message.New("set", "1", "2")))
	if got != "set::1,2\r\n" {
		t.Errorf("Frame() = %q, want %q", got, "set::1,2\r\n")
	}
}

func TestReset(t *testing.T) {
	f := Default()
	f.FeedString("partial")
	f.Reset()

	msg, ok, _ := f.FeedString("ping\n")
	if !ok || msg.Label != "ping" {
		t.Errorf("FeedString() after Reset = %v, %v, want ping", msg, ok)
	}
}

func roundTripCases() []message.Message {
	return []message.Message{
		message.New(""),
		message.New("ping"),
		message.New("ping", ""),
		message.New("state", "x"),
		message.New("move", "10", "-20", "fast"),
		message.New("set", "", "b", ""),
		message.New("temp", "21.5", "c"),
	}
}

func TestRoundTrip(t *testing.T) {
	for i, tc := range roundTripCases() {
		f := Default()
		msg, ok, err := f.Feed(f.Frame(tc))
		if err != nil || !ok {
			t.Errorf("Case %d: Feed(Frame(%v)) = %v, %v", i, tc, ok, err)
			continue
		}
		if !msg.Equal(tc) {
			t.Errorf("Case %d: RoundTrip(%v) = %v", i, tc, msg)
		}
	}
}

func TestRoundTrip_CustomConfig(t *testing.T) {
	cfg := Config{FieldSeparator: "|", ItemSeparator: ";", Terminator: "\r\n"}
	for i, tc := range roundTripCases() {
		f, err := New(cfg)
		if err != nil {
			t.Fatal(err)
		}
		msg, ok, err := f.Feed(f.Frame(tc))
		if err != nil || !ok || !msg.Equal(tc) {
			t.Errorf("Case %d: RoundTrip(%v) = %v, %v, %v", i, tc, msg, ok, err)
		}
	}
}

func TestFragmentationInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i, tc := range roundTripCases() {
		wire := Default().Frame(tc)

		for trial := 0; trial < 20; trial++ {
			f := Default()
			var got []message.Message

			rest := wire
			for len(rest) > 0 {
				n := 1 + rng.Intn(len(rest))
				msg, ok, err := f.Feed(rest[:n])
				if err != nil {
					t.Fatalf("Case %d: Feed(%q) error = %v", i, rest[:n], err)
				}
				if ok {
					got = append(got, msg)
				}
				rest = rest[n:]
			}

			if len(got) != 1 || !got[0].Equal(tc) {
				t.Errorf("Case %d trial %d: fragmented decode = %v, want [%v]", i, trial, got, tc)
			}
		}
	}
}

func TestFragmentationInvariance_ByteAtATime(t *testing.T) {
	wire := []byte("STATE\r::a,b\n")
	f := Default()

	var got []message.Message
	for i := range wire {
		if msg, ok, _ := f.Feed(wire[i : i+1]); ok {
			got = append(got, msg)
		}
	}

	if len(got) != 1 || !got[0].Equal(message.New("state", "a", "b")) {
		t.Errorf("byte-at-a-time decode = %v, want [state [a b]]", got)
	}
}
