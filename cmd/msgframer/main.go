package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/msgframer/internal/config"
	"github.com/bigbag/msgframer/internal/detect"
	"github.com/bigbag/msgframer/internal/framer"
	"github.com/bigbag/msgframer/internal/link"
	"github.com/bigbag/msgframer/internal/logging"
	"github.com/bigbag/msgframer/internal/message"
	"github.com/bigbag/msgframer/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	resetFlag   bool
	waitFlag    time.Duration
	gapFlag     time.Duration
	probeFlag   string
	allFlag     bool
	timeoutFlag time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "msgframer",
		Short: "Talk to devices using label::item,item text messages",
		Long: `msgframer exchanges delimited text messages with microcontrollers
over a serial link.

A message is a label followed by an optional list of items:

  STATE::idle,42\n

Labels are lowercased on receipt. Separators and the terminator can be
changed with flags or a TOML config file.`,
		SilenceUsage: true,
	}
	addConfigFlags(rootCmd)

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print every message received on the port",
		Args:  cobra.NoArgs,
		RunE:  runMonitor,
	}
	monitorCmd.Flags().BoolVar(&resetFlag, "reset", false, "Reset the board via DTR after opening the port")

	sendCmd := &cobra.Command{
		Use:   "send <label> [items...]",
		Short: "Send one message",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSend,
	}
	sendCmd.Flags().DurationVar(&waitFlag, "wait", 0, "Wait this long for a reply and print it")
	sendCmd.Flags().BoolVar(&resetFlag, "reset", false, "Reset the board via DTR after opening the port")

	encodeCmd := &cobra.Command{
		Use:   "encode <label> [items...]",
		Short: "Print the wire form of a message",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runEncode,
	}

	decodeCmd := &cobra.Command{
		Use:   "decode [file]",
		Short: "Decode messages from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDecode,
	}

	replayCmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Send every message in a capture file",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}
	replayCmd.Flags().DurationVar(&gapFlag, "gap", 50*time.Millisecond, "Pause between messages")
	replayCmd.Flags().BoolVar(&resetFlag, "reset", false, "Reset the board via DTR after opening the port")

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Find devices that answer a probe message",
		Args:  cobra.NoArgs,
		RunE:  runProbe,
	}
	probeCmd.Flags().StringVar(&probeFlag, "message", "ping", "Probe message in wire form (without terminator)")
	probeCmd.Flags().BoolVar(&allFlag, "all", false, "Probe every port instead of stopping at the first answer")
	probeCmd.Flags().DurationVar(&timeoutFlag, "timeout", 500*time.Millisecond, "Time to wait for each reply")
	probeCmd.Flags().BoolVar(&resetFlag, "reset", false, "Reset each board via DTR before probing")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "msgframer %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	rootCmd.AddCommand(monitorCmd, sendCmd, encodeCmd, decodeCmd, replayCmd, probeCmd, versionCmd, listCmd)
	return rootCmd
}

// setup loads configuration and the logger shared by every command.
func setup(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	logger, err := logging.Init("msgframer", cfg.LogLevel)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

// openLink opens the configured port, or the first answering one when no
// port is configured.
func openLink(cfg config.Config, logger zerolog.Logger) (*link.Link, *serial.Port, error) {
	portName := cfg.Port
	if portName == "" {
		fmt.Fprintln(os.Stderr, "Detecting device...")
		result, err := detect.DetectDevice(detect.Options{Config: cfg, Reset: resetFlag, Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("device detection failed: %w", err)
		}
		portName = result.Port
		fmt.Fprintf(os.Stderr, "Found device on %s (%s)\n", result.Port, result.Reply)
	}

	port, err := serial.Open(portName, cfg.BaudRate, cfg.ReadTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open port: %w", err)
	}

	if resetFlag && cfg.Port != "" {
		if err := port.ResetBoard(); err != nil {
			port.Close()
			return nil, nil, fmt.Errorf("failed to reset board: %w", err)
		}
	}

	f, err := framer.New(cfg.Framer)
	if err != nil {
		port.Close()
		return nil, nil, err
	}

	logger.Info().Str("port", port.PortName()).Int("baud", port.BaudRate()).Msg("port open")
	return link.New(port, f, logger.With().Str("port", port.PortName()).Logger()), port, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	l, port, err := openLink(cfg, logger)
	if err != nil {
		return err
	}
	defer port.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	return l.Monitor(ctx, func(msg message.Message) {
		printMessage(out, msg)
	})
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	l, port, err := openLink(cfg, logger)
	if err != nil {
		return err
	}
	defer port.Close()

	msg := message.New(args[0], args[1:]...)
	if err := l.Send(msg); err != nil {
		return err
	}

	if waitFlag <= 0 {
		return nil
	}

	reply, err := l.Receive(waitFlag)
	if err != nil {
		return err
	}
	printMessage(cmd.OutOrStdout(), reply)
	return nil
}

func runEncode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	f, err := framer.New(cfg.Framer)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), f.Encode(message.New(args[0], args[1:]...)))
	return nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if len(args) == 1 {
		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer file.Close()
		in = file
	}

	f, err := framer.New(cfg.Framer)
	if err != nil {
		return err
	}

	return decodeStream(in, f, logger, func(msg message.Message) {
		printMessage(cmd.OutOrStdout(), msg)
	})
}

// decodeStream feeds r through f chunk by chunk and hands every decoded
// message to handle. Bad frames are logged and skipped.
func decodeStream(r io.Reader, f *framer.Framer, logger zerolog.Logger, handle link.Handler) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		for msg, derr := range f.Messages(buf[:n]) {
			if derr != nil {
				logger.Warn().Err(derr).Msg("dropped frame")
				continue
			}
			handle(msg)
		}
		if err == io.EOF {
			if f.Buffered() > 0 {
				logger.Warn().Int("bytes", f.Buffered()).Msg("unterminated data at end of input")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer file.Close()

	f, err := framer.New(cfg.Framer)
	if err != nil {
		return err
	}

	var msgs []message.Message
	if err := decodeStream(file, f, logger, func(msg message.Message) {
		msgs = append(msgs, msg)
	}); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("no messages in %s", args[0])
	}
	fmt.Fprintf(os.Stderr, "Capture: %s (%d messages)\n", args[0], len(msgs))

	l, port, err := openLink(cfg, logger)
	if err != nil {
		return err
	}
	defer port.Close()

	bar := progressbar.NewOptions(len(msgs),
		progressbar.OptionSetDescription("Replaying"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	l.SetProgressCallback(func(current, total int) {
		bar.Set(current)
	})

	if err := l.Replay(msgs, gapFlag); err != nil {
		return err
	}

	bar.Finish()
	fmt.Fprintln(os.Stderr, "Replay complete!")
	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	f, err := framer.New(cfg.Framer)
	if err != nil {
		return err
	}
	probe, err := f.Decode(strings.TrimSpace(probeFlag))
	if err != nil {
		return fmt.Errorf("--message: %w", err)
	}

	opts := detect.Options{
		Config:  cfg,
		Probe:   probe,
		Timeout: timeoutFlag,
		Reset:   resetFlag,
		Logger:  logger,
	}
	out := cmd.OutOrStdout()

	if cfg.Port != "" {
		result, err := detect.DetectOnPort(cfg.Port, opts)
		if err != nil {
			return fmt.Errorf("no reply on %s: %w", cfg.Port, err)
		}
		printResult(out, result)
		return nil
	}

	if !allFlag {
		result, err := detect.DetectDevice(opts)
		if err != nil {
			return err
		}
		printResult(out, result)
		return nil
	}

	fmt.Fprintln(os.Stderr, "Scanning for devices...")
	devices, err := detect.ListDevices(opts)
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices answered")
		return nil
	}

	fmt.Fprintf(out, "Found %d device(s):\n\n", len(devices))
	for i := range devices {
		fmt.Fprintf(out, "Device %d:\n", i+1)
		printResult(out, &devices[i])
		fmt.Fprintln(out)
	}
	return nil
}

func printResult(w io.Writer, r *detect.Result) {
	fmt.Fprintf(w, "  Port:   %s\n", r.Port)
	fmt.Fprintf(w, "  Reply:  %s\n", r.Reply)
}

func printMessage(w io.Writer, msg message.Message) {
	fmt.Fprintln(w, msg)
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(ports) == 0 {
		fmt.Fprintln(out, "No serial ports found")
		return nil
	}

	fmt.Fprintln(out, "Available serial ports:")
	for _, p := range ports {
		fmt.Fprintf(out, "  %s\n", p)
	}
	return nil
}
