// Package config loads the diagnostic settings from an ini file.
// Every key is optional, missing keys keep their default value.
//
//	[bus]
//	interface = none
//	channel = localhost:18888
//	loopback = true
//	silent = true
//	bitrate = 250000
//	fifo_depth = 3
//
//	[filter]
//	bank = 0
//	fifo = 0
//	id = 0x0
//	mask = 0x0
//
//	[exchange]
//	id = 0x123456F
//	interval = 250ms
//	max_cycle = 2
//	read_timeout = 0s
//
//	[log]
//	level = info
//	format = text
package config

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/samsamfire/gocanloop/pkg/can"
	"github.com/samsamfire/gocanloop/pkg/exchange"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

const (
	DefaultInterface = "none"
	DefaultChannel   = "localhost:18888"
)

type BusConfig struct {
	Interface string
	Channel   string
	FifoDepth uint16
}

type LogConfig struct {
	Level  log.Level
	Format string
}

type Config struct {
	Bus      BusConfig
	Exchange exchange.Config
	Log      LogConfig
}

func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Interface: DefaultInterface,
			Channel:   DefaultChannel,
			FifoDepth: can.DefaultFifoDepth,
		},
		Exchange: exchange.DefaultConfig(),
		Log:      LogConfig{Level: log.InfoLevel, Format: "text"},
	}
}

// Load a configuration file
// file can be either a path or []byte or an io.Reader
func Load(file any) (*Config, error) {
	iniFile, err := ini.Load(file)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	config := Default()
	if err := config.parseBus(iniFile.Section("bus")); err != nil {
		return nil, errors.Wrap(err, "section [bus]")
	}
	if err := config.parseFilter(iniFile.Section("filter")); err != nil {
		return nil, errors.Wrap(err, "section [filter]")
	}
	if err := config.parseExchange(iniFile.Section("exchange")); err != nil {
		return nil, errors.Wrap(err, "section [exchange]")
	}
	if err := config.parseLog(iniFile.Section("log")); err != nil {
		return nil, errors.Wrap(err, "section [log]")
	}
	if err := config.Exchange.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (config *Config) parseBus(section *ini.Section) error {
	if section.HasKey("interface") {
		config.Bus.Interface = section.Key("interface").String()
	}
	if section.HasKey("channel") {
		config.Bus.Channel = section.Key("channel").String()
	}
	mode := &config.Exchange.Mode
	if err := parseBool(section, "loopback", &mode.Loopback); err != nil {
		return err
	}
	if err := parseBool(section, "silent", &mode.Silent); err != nil {
		return err
	}
	bitrate, err := parseUint(section, "bitrate", 32, uint64(mode.Bitrate))
	if err != nil {
		return err
	}
	mode.Bitrate = uint32(bitrate)
	depth, err := parseUint(section, "fifo_depth", 16, uint64(config.Bus.FifoDepth))
	if err != nil {
		return err
	}
	config.Bus.FifoDepth = uint16(depth)
	return nil
}

func (config *Config) parseFilter(section *ini.Section) error {
	filter := &config.Exchange.Filter
	bank, err := parseUint(section, "bank", 8, uint64(filter.Bank))
	if err != nil {
		return err
	}
	fifo, err := parseUint(section, "fifo", 8, uint64(filter.Fifo))
	if err != nil {
		return err
	}
	id, err := parseUint(section, "id", 32, uint64(filter.Filter.ID))
	if err != nil {
		return err
	}
	mask, err := parseUint(section, "mask", 32, uint64(filter.Filter.Mask))
	if err != nil {
		return err
	}
	filter.Bank = uint8(bank)
	filter.Fifo = can.Fifo(fifo)
	filter.Filter = can.Mask32{ID: uint32(id), Mask: uint32(mask)}
	return nil
}

func (config *Config) parseExchange(section *ini.Section) error {
	exchangeConfig := &config.Exchange
	id, err := parseUint(section, "id", 32, uint64(exchangeConfig.ID))
	if err != nil {
		return err
	}
	exchangeConfig.ID = uint32(id)
	maxCycle, err := parseUint(section, "max_cycle", 32, uint64(exchangeConfig.MaxCycle))
	if err != nil {
		return err
	}
	exchangeConfig.MaxCycle = uint(maxCycle)
	if err := parseDuration(section, "interval", &exchangeConfig.Interval); err != nil {
		return err
	}
	return parseDuration(section, "read_timeout", &exchangeConfig.ReadTimeout)
}

func (config *Config) parseLog(section *ini.Section) error {
	if section.HasKey("level") {
		level, err := log.ParseLevel(section.Key("level").String())
		if err != nil {
			return err
		}
		config.Log.Level = level
	}
	if section.HasKey("format") {
		format := section.Key("format").String()
		if format != "text" && format != "json" {
			return errors.Errorf("unknown log format %q", format)
		}
		config.Log.Format = format
	}
	return nil
}

// Configure logger level and formatter
func (config *Config) ApplyLogger(logger *log.Logger) {
	logger.SetLevel(config.Log.Level)
	if config.Log.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// Accepts decimal or 0x prefixed hexadecimal
func parseUint(section *ini.Section, name string, bitSize int, defaultValue uint64) (uint64, error) {
	if !section.HasKey(name) {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(section.Key(name).String(), 0, bitSize)
	if err != nil {
		return 0, errors.Wrapf(err, "key %v", name)
	}
	return value, nil
}

func parseBool(section *ini.Section, name string, value *bool) error {
	if !section.HasKey(name) {
		return nil
	}
	parsed, err := section.Key(name).Bool()
	if err != nil {
		return errors.Wrapf(err, "key %v", name)
	}
	*value = parsed
	return nil
}

func parseDuration(section *ini.Section, name string, value *time.Duration) error {
	if !section.HasKey(name) {
		return nil
	}
	parsed, err := section.Key(name).Duration()
	if err != nil {
		return errors.Wrapf(err, "key %v", name)
	}
	*value = parsed
	return nil
}
