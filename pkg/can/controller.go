package can

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samsamfire/gocanloop/internal/fifo"
	log "github.com/sirupsen/logrus"
)

// Default depth of each receive FIFO (bxCAN style three mailboxes)
const DefaultFifoDepth uint16 = 3

// Controller is a [Bus] implementation on top of a raw [Driver].
// It reproduces the controller side of a CAN peripheral : acceptance
// filter banks, loopback and silent modes, bounded receive FIFOs
// with overrun detection and receipt timestamps.
//
// Filters and mode can only be changed while the controller is disabled.
type Controller struct {
	mu        sync.Mutex
	logger    log.FieldLogger
	driver    Driver
	clock     func() time.Time
	banks     filterBanks
	mode      Mode
	fifoDepth uint16
	fifos     [NumFifos]*fifo.Fifo[Envelope]
	notify    chan struct{}
	disabled  chan struct{}
	enabled   bool
	canError  uint16
}

// Create a new controller. driver may be nil, in which case only
// silent loopback operation is possible.
func NewController(driver Driver, logger log.FieldLogger) *Controller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	c := &Controller{
		logger:    logger,
		driver:    driver,
		clock:     time.Now,
		mode:      DefaultMode(),
		fifoDepth: DefaultFifoDepth,
		notify:    make(chan struct{}, 1),
		disabled:  make(chan struct{}),
	}
	c.resetFifos()
	return c
}

func (c *Controller) resetFifos() {
	for i := range c.fifos {
		c.fifos[i] = fifo.NewFifo[Envelope](c.fifoDepth)
	}
}

// Change the clock used for receipt timestamps
func (c *Controller) SetClock(clock func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

// Change the depth of the receive FIFOs
func (c *Controller) SetFifoDepth(depth uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return ErrInvalidState
	}
	if depth == 0 {
		return errors.Wrap(ErrFifo, "depth must be at least 1")
	}
	c.fifoDepth = depth
	c.resetFifos()
	return nil
}

// Install an acceptance filter on a bank, frames matching it
// are stored in the given FIFO
func (c *Controller) EnableBank(bank uint8, queue Fifo, filter Mask32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return ErrInvalidState
	}
	err := c.banks.enable(bank, queue, filter)
	if err != nil {
		return err
	}
	c.logger.Debugf("[CAN] filter bank %d -> %v, id 0x%x mask 0x%x", bank, queue, filter.ID, filter.Mask)
	return nil
}

// Apply loopback, silent and bitrate in one step.
// An invalid mode leaves the current one untouched.
func (c *Controller) Configure(mode Mode) error {
	if err := mode.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return ErrInvalidState
	}
	c.mode = mode
	c.logger.Debugf("[CAN] mode set to %v", mode)
	return nil
}

// Current mode
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Connect the driver and start accepting frames
func (c *Controller) Enable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return nil
	}
	if c.driver == nil {
		if !c.mode.Loopback || !c.mode.Silent {
			return errors.Wrapf(ErrNoDriver, "mode %v", c.mode)
		}
		c.enabled = true
		c.disabled = make(chan struct{})
		c.logger.Infof("[CAN] enabled without driver, %v", c.mode)
		return nil
	}
	if setter, ok := c.driver.(BitrateSetter); ok {
		if err := setter.SetBitrate(c.mode.Bitrate); err != nil {
			return errors.Wrapf(err, "set bitrate %d", c.mode.Bitrate)
		}
	} else {
		c.logger.Debugf("[CAN] driver has no bitrate control, expecting link at %d bit/s", c.mode.Bitrate)
	}
	if err := c.driver.Connect(); err != nil {
		return errors.Wrap(err, "connect driver")
	}
	if err := c.driver.Subscribe(c); err != nil {
		_ = c.driver.Disconnect()
		return errors.Wrap(err, "subscribe to driver")
	}
	c.enabled = true
	c.disabled = make(chan struct{})
	c.logger.Infof("[CAN] enabled, %v", c.mode)
	return nil
}

// Stop accepting frames and disconnect the driver.
// Pending frames are dropped, blocked readers return [ErrInvalidState].
func (c *Controller) Disable() error {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return nil
	}
	c.enabled = false
	close(c.disabled)
	c.resetFifos()
	driver := c.driver
	c.mu.Unlock()
	// Driver reception may be blocked in Handle, don't hold the lock
	if driver == nil {
		return nil
	}
	return driver.Disconnect()
}

// Transmit a frame. In silent mode nothing is handed to the driver,
// in loopback mode the frame is fed back to the receive path.
func (c *Controller) Write(ctx context.Context, frame Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := frame.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	enabled, mode := c.enabled, c.mode
	c.mu.Unlock()
	if !enabled {
		return ErrInvalidState
	}
	// Lock is not held while sending, drivers may call Handle synchronously
	if !mode.Silent {
		err := c.driver.Send(frame)
		c.mu.Lock()
		if err != nil {
			c.canError |= CanErrorTxWarning
		} else {
			c.canError &^= CanErrorTxWarning
		}
		c.mu.Unlock()
		if err != nil {
			c.logger.Warnf("[CAN] %v", err)
			return errors.Wrapf(err, "send %v", frame)
		}
	}
	if mode.Loopback {
		c.receive(frame)
	}
	return nil
}

// Wait for the next received frame
func (c *Controller) Read(ctx context.Context) (Envelope, error) {
	for {
		c.mu.Lock()
		if !c.enabled {
			c.mu.Unlock()
			return Envelope{}, ErrInvalidState
		}
		for i, f := range c.fifos {
			if f.TakeOverrun() {
				c.canError &^= CanErrorRxOverflow
				c.mu.Unlock()
				return Envelope{}, errors.Wrapf(ErrRxOverflow, "%v", Fifo(i))
			}
		}
		for _, f := range c.fifos {
			if envelope, ok := f.Read(); ok {
				c.mu.Unlock()
				return envelope, nil
			}
		}
		disabled := c.disabled
		c.mu.Unlock()
		select {
		case <-c.notify:
		case <-disabled:
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}
}

// Implements the FrameListener interface
// This handles all received CAN frames from the driver
func (c *Controller) Handle(frame Frame) {
	c.mu.Lock()
	loopback := c.mode.Loopback
	c.mu.Unlock()
	// Bus input is disregarded in loopback mode
	if loopback {
		return
	}
	c.receive(frame)
}

func (c *Controller) receive(frame Frame) {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	queue, ok := c.banks.accept(frame)
	if !ok {
		c.mu.Unlock()
		return
	}
	envelope := Envelope{Frame: frame, Timestamp: c.clock()}
	if !c.fifos[queue].Write(envelope) {
		c.canError |= CanErrorRxOverflow
		c.mu.Unlock()
		c.logger.Warnf("[CAN] %v overrun, dropped %v", queue, frame)
		return
	}
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Get CAN error status
func (c *Controller) Error() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canError
}
