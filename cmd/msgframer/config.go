package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigbag/msgframer/internal/config"
)

var (
	configFlag     string
	portFlag       string
	baudFlag       int
	logLevelFlag   string
	fieldSepFlag   string
	itemSepFlag    string
	terminatorFlag string
	maxItemsFlag   int
)

func addConfigFlags(cmd *cobra.Command) {
	def := config.Default()
	flags := cmd.PersistentFlags()
	flags.StringVarP(&configFlag, "config", "c", "", "TOML config file")
	flags.StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	flags.IntVarP(&baudFlag, "baud", "b", def.BaudRate, "Baud rate")
	flags.StringVar(&logLevelFlag, "log-level", def.LogLevel, "Log level (trace, debug, info, warn, error, off)")
	flags.StringVar(&fieldSepFlag, "field-sep", def.Framer.FieldSeparator, "Separator between label and items")
	flags.StringVar(&itemSepFlag, "item-sep", def.Framer.ItemSeparator, "Separator between items")
	flags.StringVar(&terminatorFlag, "terminator", `\n`, "Frame terminator (Go escapes allowed)")
	flags.IntVar(&maxItemsFlag, "max-items", def.Framer.MaxItems, "Maximum items per message")
}

// loadConfig reads --config if given and applies flags set on the command line.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configFlag != "" {
		var err error
		if cfg, err = config.Load(configFlag); err != nil {
			return config.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = portFlag
	}
	if flags.Changed("baud") {
		cfg.BaudRate = baudFlag
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevelFlag
	}
	if flags.Changed("max-items") {
		cfg.Framer.MaxItems = maxItemsFlag
	}

	separators := []struct {
		flag string
		val  string
		dst  *string
	}{
		{"field-sep", fieldSepFlag, &cfg.Framer.FieldSeparator},
		{"item-sep", itemSepFlag, &cfg.Framer.ItemSeparator},
		{"terminator", terminatorFlag, &cfg.Framer.Terminator},
	}
	for _, sep := range separators {
		if !flags.Changed(sep.flag) {
			continue
		}
		v, err := config.Unescape(sep.val)
		if err != nil {
			return config.Config{}, fmt.Errorf("--%s: %w", sep.flag, err)
		}
		*sep.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
