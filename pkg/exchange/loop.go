// Package exchange implements a bounded CAN self test : a frame with an
// evolving payload is written each cycle, one frame is read back, the
// time between successive receptions is measured and the received payload
// is only logged when it changes.
package exchange

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/samsamfire/gocanloop/pkg/can"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultID       uint32        = 0x123456F
	DefaultInterval time.Duration = 250 * time.Millisecond
	DefaultMaxCycle uint          = 2

	// Upper bound accepted for MaxCycle
	MaxCycleLimit uint = 0xFFFF
)

// Acceptance filter installed before enabling the bus
type FilterConfig struct {
	Bank   uint8
	Fifo   can.Fifo
	Filter can.Mask32
}

type Config struct {
	Filter FilterConfig
	Mode   can.Mode
	// Extended identifier used for every transmitted frame
	ID uint32
	// Flat delay at the end of each cycle
	Interval time.Duration
	// Loop ends once the cycle counter exceeds this value
	MaxCycle uint
	// Maximum wait for a frame, 0 waits forever
	ReadTimeout time.Duration
}

// Accept-all filter on bank 0, silent loopback at 250 kbit/s,
// three cycles 250 ms apart
func DefaultConfig() Config {
	return Config{
		Filter:   FilterConfig{Bank: 0, Fifo: can.Fifo0, Filter: can.Mask32AcceptAll()},
		Mode:     can.DefaultMode(),
		ID:       DefaultID,
		Interval: DefaultInterval,
		MaxCycle: DefaultMaxCycle,
	}
}

func (c Config) Validate() error {
	if c.ID > can.CanEffMask {
		return errors.Wrapf(can.ErrInvalidID, "exchange id 0x%x", c.ID)
	}
	if c.MaxCycle > MaxCycleLimit {
		return errors.Errorf("max cycle %d above limit %d", c.MaxCycle, MaxCycleLimit)
	}
	if c.Interval < 0 || c.ReadTimeout < 0 {
		return errors.New("negative duration in exchange config")
	}
	return c.Mode.Validate()
}

// Summary of a loop run
type Report struct {
	Cycles   uint
	TxErrors uint
	RxErrors uint
	Records  uint
}

// Apply filter and mode to the bus, must be done before enabling it
func Setup(bus can.Bus, filter FilterConfig, mode can.Mode) error {
	err := bus.EnableBank(filter.Bank, filter.Fifo, filter.Filter)
	if err != nil {
		return errors.Wrapf(err, "enable filter bank %d", filter.Bank)
	}
	err = bus.Configure(mode)
	if err != nil {
		return errors.Wrapf(err, "configure mode %v", mode)
	}
	return nil
}

// Loop is the exchange loop. It owns the bus for the whole run.
type Loop struct {
	bus    can.Bus
	config Config
	logger log.FieldLogger
	sleep  func(time.Duration)
	now    func() time.Time
	state  State
}

func NewLoop(bus can.Bus, config Config, logger log.FieldLogger) *Loop {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Loop{
		bus:    bus,
		config: config,
		logger: logger,
		sleep:  time.Sleep,
		now:    time.Now,
		state:  StateConfiguring,
	}
}

// Replace the function used for the end of cycle delay
func (l *Loop) SetSleeper(sleep func(time.Duration)) {
	l.sleep = sleep
}

// Replace the clock giving the initial latency baseline
func (l *Loop) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Loop) State() State {
	return l.state
}

func (l *Loop) setState(state State) {
	l.logger.Debugf("[EXCHANGE] %v => %v", l.state, state)
	l.state = state
}

// Configure and enable the bus, then run the bounded exchange.
// Only configuration or enable failures are returned, errors
// during cycles are logged and counted in the report.
func (l *Loop) Run(ctx context.Context) (Report, error) {
	report := Report{}
	l.state = StateConfiguring
	if err := l.config.Validate(); err != nil {
		return report, err
	}
	if err := Setup(l.bus, l.config.Filter, l.config.Mode); err != nil {
		return report, err
	}
	if err := l.bus.Enable(ctx); err != nil {
		return report, errors.Wrap(err, "enable bus")
	}
	l.setState(StateEnabled)
	l.logger.Info("[EXCHANGE] CAN enabled")

	obs := newObservation(l.now())
	for counter := uint(0); ; counter++ {
		l.cycle(ctx, counter, obs, &report)
		if counter >= l.config.MaxCycle {
			break
		}
	}
	l.setState(StateTerminated)
	return report, nil
}

func (l *Loop) frame(counter uint) can.Frame {
	frame := can.Frame{ID: l.config.ID | can.CanEffFlag, DLC: can.MaxDataLength}
	for i := range frame.Data {
		frame.Data[i] = byte(counter)
	}
	return frame
}

func (l *Loop) cycle(ctx context.Context, counter uint, obs *observation, report *Report) {
	report.Cycles++

	l.setState(StateTransmitting)
	frame := l.frame(counter)
	l.logger.WithField("cycle", counter).Info("[EXCHANGE] writing frame")
	if err := l.bus.Write(ctx, frame); err != nil {
		report.TxErrors++
		l.logger.WithField("cycle", counter).Warnf("[EXCHANGE] ignoring write error : %v", err)
	}

	l.setState(StateAwaitingReceive)
	envelope, err := l.read(ctx)
	if err != nil {
		report.RxErrors++
		l.logger.WithField("cycle", counter).Errorf("[EXCHANGE] error in frame : %v", err)
	} else {
		l.setState(StateEvaluating)
		if record, changed := obs.observe(envelope); changed {
			report.Records++
			l.logger.WithFields(log.Fields{
				"len":      record.Length,
				"data":     record.Hex(),
				"delta_ms": record.DeltaMs(),
			}).Infof("[EXCHANGE] rx : %d [%s] --- %dms", record.Length, record.Hex(), record.DeltaMs())
		}
	}

	l.setState(StateSleeping)
	l.sleep(l.config.Interval)
}

func (l *Loop) read(ctx context.Context) (can.Envelope, error) {
	if l.config.ReadTimeout <= 0 {
		return l.bus.Read(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, l.config.ReadTimeout)
	defer cancel()
	return l.bus.Read(ctx)
}
