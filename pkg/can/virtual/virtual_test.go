package virtual

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/samsamfire/gocanloop/pkg/can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Minimal virtualcan broker, relays every frame to all other clients
type broker struct {
	ln    net.Listener
	mu    sync.Mutex
	conns []net.Conn
}

func newBroker(t *testing.T) *broker {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	b := &broker{ln: ln}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			b.mu.Lock()
			b.conns = append(b.conns, conn)
			b.mu.Unlock()
			go b.serve(conn)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, conn := range b.conns {
			conn.Close()
		}
	})
	return b
}

func (b *broker) serve(conn net.Conn) {
	for {
		header := make([]byte, 4)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		body := make([]byte, binary.BigEndian.Uint32(header))
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		msg := append(header, body...)
		b.mu.Lock()
		for _, other := range b.conns {
			if other != conn {
				_, _ = other.Write(msg)
			}
		}
		b.mu.Unlock()
	}
}

func (b *broker) clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

type FrameReceiver struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (frameReceiver *FrameReceiver) Handle(frame can.Frame) {
	frameReceiver.mu.Lock()
	defer frameReceiver.mu.Unlock()
	frameReceiver.frames = append(frameReceiver.frames, frame)
}

func (frameReceiver *FrameReceiver) Frames() []can.Frame {
	frameReceiver.mu.Lock()
	defer frameReceiver.mu.Unlock()
	return append([]can.Frame(nil), frameReceiver.frames...)
}

func TestSerializeFrame(t *testing.T) {
	frame, _ := can.NewExtendedFrame(0x123456F, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	raw, err := serializeFrame(frame)
	assert.Nil(t, err)
	assert.EqualValues(t, 14, binary.BigEndian.Uint32(raw[:4]))
	assert.Len(t, raw, 18)
	decoded, err := deserializeFrame(raw[4:])
	assert.Nil(t, err)
	assert.Equal(t, frame, *decoded)
}

func TestNotConnected(t *testing.T) {
	bus, _ := NewVirtualCanBus("127.0.0.1:1")
	assert.ErrorIs(t, bus.Send(can.NewFrame(0x1, 0, 0)), errNotConnected)
	assert.ErrorIs(t, bus.Subscribe(&FrameReceiver{}), errNotConnected)
	assert.Nil(t, bus.Disconnect())
}

func TestSendAndSubscribe(t *testing.T) {
	b := newBroker(t)
	vcan1, _ := can.NewDriver("virtual", b.ln.Addr().String())
	vcan2, _ := can.NewDriver("virtualcan", b.ln.Addr().String())
	require.Nil(t, vcan1.Connect())
	require.Nil(t, vcan2.Connect())
	defer vcan1.Disconnect()
	defer vcan2.Disconnect()
	assert.Eventually(t, func() bool { return b.clients() == 2 }, time.Second, 5*time.Millisecond)

	frameReceiver := &FrameReceiver{}
	require.Nil(t, vcan2.Subscribe(frameReceiver))

	// Send 10 frames from vcan 1 && check order and value on vcan2
	frame := can.Frame{ID: 0x111, Flags: 0, DLC: 8, Data: [8]byte{0, 1, 2, 3, 4, 5, 6, 7}}
	for i := 0; i < 10; i++ {
		frame.Data[0] = uint8(i)
		assert.Nil(t, vcan1.Send(frame))
	}
	assert.Eventually(t, func() bool { return len(frameReceiver.Frames()) == 10 }, time.Second, 10*time.Millisecond)
	for i, frame := range frameReceiver.Frames() {
		assert.EqualValues(t, 0x111, frame.ID)
		assert.EqualValues(t, uint8(i), frame.Data[0])
	}
}

func TestControllerOverVirtual(t *testing.T) {
	b := newBroker(t)
	peer, _ := NewVirtualCanBus(b.ln.Addr().String())
	require.Nil(t, peer.Connect())
	defer peer.Disconnect()

	driver, _ := NewVirtualCanBus(b.ln.Addr().String())
	controller := can.NewController(driver, nil)
	require.Nil(t, controller.EnableBank(0, can.Fifo0, can.Mask32AcceptAll()))
	require.Nil(t, controller.Configure(can.Mode{Bitrate: can.DefaultBitrate}))
	require.Nil(t, controller.Enable(context.Background()))
	defer controller.Disable()
	assert.Eventually(t, func() bool { return b.clients() == 2 }, time.Second, 5*time.Millisecond)

	frame, _ := can.NewExtendedFrame(0x123456F, []byte{7, 7})
	require.Nil(t, peer.Send(frame))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	envelope, err := controller.Read(ctx)
	assert.Nil(t, err)
	assert.Equal(t, frame, envelope.Frame)
}
