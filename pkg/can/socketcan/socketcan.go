package socketcan

import (
	sockcan "github.com/brutella/can"
	can "github.com/samsamfire/gocanloop/pkg/can"
	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"
)

// Basic wrapper for socketcan it uses the implementation
// that can be found here : https://github.com/brutella/can
// Bitrate and listen-only are link settings on Linux, e.g.
// ip link set can0 type can bitrate 250000 listen-only on

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

type SocketcanBus struct {
	bus        *sockcan.Bus
	rxCallback can.FrameListener
	t          *tomb.Tomb
}

// "Connect" implementation of Driver interface
func (socketcan *SocketcanBus) Connect(...any) error {
	t := &tomb.Tomb{}
	t.Go(func() error {
		err := socketcan.bus.ConnectAndPublish()
		select {
		case <-t.Dying():
			return nil
		default:
			log.Errorf("[SOCKETCAN] reception stopped : %v", err)
			return err
		}
	})
	socketcan.t = t
	return nil
}

// "Disconnect" implementation of Driver interface
func (socketcan *SocketcanBus) Disconnect() error {
	if socketcan.t == nil {
		return nil
	}
	socketcan.t.Kill(nil)
	err := socketcan.bus.Disconnect()
	_ = socketcan.t.Wait()
	socketcan.t = nil
	return err
}

// "Send" implementation of Driver interface
func (socketcan *SocketcanBus) Send(frame can.Frame) error {
	return socketcan.bus.Publish(
		sockcan.Frame{
			ID:     frame.ID,
			Length: frame.DLC,
			Flags:  frame.Flags,
			Res0:   0,
			Res1:   0,
			Data:   frame.Data,
		})
}

// "Subscribe" implementation of Driver interface
func (socketcan *SocketcanBus) Subscribe(rxCallback can.FrameListener) error {
	socketcan.rxCallback = rxCallback
	// brutella/can defines a "Handle" interface for handling received CAN frames
	socketcan.bus.Subscribe(socketcan)
	return nil
}

// brutella/can specific "Handle" implementation
func (socketcan *SocketcanBus) Handle(frame sockcan.Frame) {
	if socketcan.rxCallback == nil {
		return
	}
	socketcan.rxCallback.Handle(can.Frame{ID: frame.ID, DLC: frame.Length, Flags: frame.Flags, Data: frame.Data})
}

func NewSocketCanBus(name string) (can.Driver, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	return &SocketcanBus{bus: bus}, nil
}
