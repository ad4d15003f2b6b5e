package detect

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bigbag/msgframer/internal/config"
	"github.com/bigbag/msgframer/internal/framer"
	"github.com/bigbag/msgframer/internal/link"
	"github.com/bigbag/msgframer/internal/message"
	"github.com/bigbag/msgframer/internal/serial"
)

// DefaultProbe is sent to a port to see whether a device answers.
var DefaultProbe = message.New("ping")

// Result represents a port that answered the probe.
type Result struct {
	Port  string
	Reply message.Message
}

// Options controls how ports are probed.
type Options struct {
	Config   config.Config
	Probe    message.Message
	Attempts int
	Timeout  time.Duration
	Reset    bool
	Logger   zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Probe.Label == "" {
		o.Probe = DefaultProbe
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 500 * time.Millisecond
	}
	return o
}

// DetectDevice returns the first port whose device answers the probe.
func DetectDevice(opts Options) (*Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, portName := range ports {
		result, err := DetectOnPort(portName, opts)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	return nil, fmt.Errorf("no responding device found (last error: %w)", lastErr)
}

// ListDevices probes every port and returns all that answered.
func ListDevices(opts Options) ([]Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, portName := range ports {
		result, err := DetectOnPort(portName, opts)
		if err == nil {
			results = append(results, *result)
		}
	}

	return results, nil
}

// DetectOnPort probes a specific port.
func DetectOnPort(portName string, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	port, err := serial.Open(portName, opts.Config.BaudRate, opts.Config.ReadTimeout)
	if err != nil {
		return nil, err
	}
	defer port.Close()

	if opts.Reset {
		if err := port.ResetBoard(); err != nil {
			return nil, fmt.Errorf("failed to reset: %w", err)
		}
	}

	f, err := framer.New(opts.Config.Framer)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.With().Str("port", port.PortName()).Int("baud", port.BaudRate()).Logger()
	reply, err := Probe(link.New(port, f, logger), opts.Probe, opts.Attempts, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", portName, err)
	}

	return &Result{Port: portName, Reply: reply}, nil
}

// Probe sends probe up to attempts times and returns the first reply.
func Probe(l *link.Link, probe message.Message, attempts int, timeout time.Duration) (message.Message, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		reply, err := l.Request(probe, timeout)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		l.Framer().Reset()
	}

	return message.Message{}, fmt.Errorf("no reply after %d attempts: %w", attempts, lastErr)
}
