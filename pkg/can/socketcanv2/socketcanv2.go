//go:build linux

package socketcanv2

import (
	"fmt"
	"net"
	"os"
	"time"
	"unsafe"

	can "github.com/samsamfire/gocanloop/pkg/can"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gopkg.in/tomb.v2"
)

const (
	SocketCANFrameSize = 16
	DefaultRcvTimeout  = 100 * time.Millisecond
)

func init() {
	can.RegisterInterface("socketcanv2", NewSocketCanBus)
}

// Memory layout of struct can_frame
type CANframe struct {
	id   uint32
	dlc  uint8
	pad  uint8
	res0 uint8
	res1 uint8
	data [8]uint8
}

type SocketcanBus struct {
	f          *os.File
	fd         int
	rxCallback can.FrameListener
	t          *tomb.Tomb
}

// Create a new SocketCAN bus. This expects the CAN channel to be up.
// e.g. running "ip a" should show can0 or something similar.
func NewSocketCanBus(channel string) (can.Driver, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket : %v", err)
	}
	tv := unix.NsecToTimeval(DefaultRcvTimeout.Nanoseconds())
	err = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set read timeout %v", err)
	}
	addr := &unix.SockaddrCAN{Ifindex: iface.Index}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &SocketcanBus{fd: fd}, nil
}

// "Connect" implementation of Driver interface
func (s *SocketcanBus) Connect(...any) error {
	if s.t != nil {
		return nil
	}
	s.f = os.NewFile(uintptr(s.fd), fmt.Sprintf("fd %d", s.fd))
	s.t = &tomb.Tomb{}
	s.t.Go(s.processIncoming)
	return nil
}

// "Disconnect" implementation of Driver interface
func (s *SocketcanBus) Disconnect() error {
	if s.t == nil {
		return nil
	}
	s.t.Kill(nil)
	err := s.t.Wait()
	s.t = nil
	if closeErr := s.f.Close(); err == nil {
		err = closeErr
	}
	return err
}

// "Send" implementation of Driver interface
func (s *SocketcanBus) Send(frame can.Frame) error {
	if s.f == nil {
		return fmt.Errorf("socket not connected")
	}
	canFrame := &CANframe{}
	canFrame.id = frame.ID
	canFrame.dlc = frame.DLC
	canFrame.pad = frame.Flags
	canFrame.data = frame.Data

	rawData := (*(*[SocketCANFrameSize]byte)(unsafe.Pointer(canFrame)))[:]
	n, err := s.f.Write(rawData)
	if err != nil {
		return err
	}
	if n != SocketCANFrameSize {
		return fmt.Errorf("short write : %d bytes", n)
	}
	return nil
}

// process incoming frames until the tomb is killed.
// The socket read timeout gives the loop a chance to check for it.
func (s *SocketcanBus) processIncoming() error {
	rxFrame := make([]byte, SocketCANFrameSize)
	for {
		select {
		case <-s.t.Dying():
			log.Debug("[SOCKETCAN] exiting CAN bus reception, closed")
			return nil
		default:
		}
		n, err := unix.Read(s.fd, rxFrame)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			continue
		}
		if err != nil || n != SocketCANFrameSize {
			log.Errorf("[SOCKETCAN] exiting CAN bus reception : read %d bytes, %v", n, err)
			return err
		}
		// Direct translation in CANFrame
		frame := (*CANframe)(unsafe.Pointer(&rxFrame[0]))
		if s.rxCallback != nil {
			s.rxCallback.Handle(can.Frame{ID: frame.id, DLC: frame.dlc, Flags: frame.pad, Data: frame.data})
		}
	}
}

// "Subscribe" implementation of Driver interface
func (s *SocketcanBus) Subscribe(rxCallback can.FrameListener) error {
	s.rxCallback = rxCallback
	return nil
}

// Enable own reception on the socket. Not needed for controller
// loopback, which never goes through the socket.
func (s *SocketcanBus) SetReceiveOwn(enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	log.Infof("[SOCKETCAN] setting option 'CAN_RAW_RECV_OWN_MSGS' fd %d enabled %v", s.fd, enabled)
	return unix.SetsockoptInt(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, enabledInt)
}
