package virtual

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/samsamfire/gocanloop/pkg/can"
	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"
)

// Virtual CAN bus implementation with TCP primarily used for testing
// This needs a broker server to send CAN frames to all connected clients
// More information : https://github.com/windelbouwman/virtualcan

const (
	readTimeout  = 200 * time.Millisecond
	writeTimeout = 10 * time.Millisecond
)

var errNotConnected = errors.New("no active connection")

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

type Bus struct {
	mu           sync.Mutex
	channel      string
	conn         net.Conn
	framehandler can.FrameListener
	t            *tomb.Tomb
}

func NewVirtualCanBus(channel string) (can.Driver, error) {
	return &Bus{channel: channel}, nil
}

// Helper function for serializing a CAN frame into the expected binary format
func serializeFrame(frame can.Frame) ([]byte, error) {
	buffer := new(bytes.Buffer)
	err := binary.Write(buffer, binary.BigEndian, frame)
	if err != nil {
		return nil, err
	}
	dataBytes := buffer.Bytes()
	frameBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(frameBytes, uint32(len(dataBytes)))
	frameBytes = append(frameBytes, dataBytes...)
	return frameBytes, nil
}

// Helper function for deserializing a CAN frame from expected binary format
func deserializeFrame(buffer []byte) (*can.Frame, error) {
	var frame can.Frame
	buf := bytes.NewBuffer(buffer)
	err := binary.Read(buf, binary.BigEndian, &frame)
	if err != nil {
		return nil, err
	}
	return &frame, nil
}

// "Connect" to server e.g. localhost:18000
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		err := tcpConn.SetNoDelay(true)
		if err != nil {
			conn.Close()
			return err
		}
	}
	b.conn = conn
	return nil
}

// "Disconnect" from server
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	t := b.t
	b.t = nil
	b.mu.Unlock()
	if t != nil {
		t.Kill(nil)
		_ = t.Wait()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// "Send" implementation of Driver interface
func (b *Bus) Send(frame can.Frame) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	frameBytes, err := serializeFrame(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = conn.Write(frameBytes)
	return err
}

// "Subscribe" implementation of Driver interface
// Starts a goroutine that passes incoming traffic to framehandler
func (b *Bus) Subscribe(framehandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return errNotConnected
	}
	b.framehandler = framehandler
	if b.t != nil {
		return nil
	}
	t := &tomb.Tomb{}
	conn := b.conn
	t.Go(func() error { return b.handleReception(t, conn) })
	b.t = t
	return nil
}

// Receive new CAN message
func recv(conn net.Conn) (*can.Frame, error) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	headerBytes := make([]byte, 4)
	_, err := io.ReadFull(conn, headerBytes)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(headerBytes)
	frameBytes := make([]byte, length)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, err = io.ReadFull(conn, frameBytes)
	if err != nil {
		return nil, err
	}
	return deserializeFrame(frameBytes)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Handle incoming traffic
func (b *Bus) handleReception(t *tomb.Tomb, conn net.Conn) error {
	for {
		select {
		case <-t.Dying():
			return nil
		default:
		}
		frame, err := recv(conn)
		if isTimeout(err) {
			// No message received, this is OK
			continue
		}
		if err != nil {
			select {
			case <-t.Dying():
				return nil
			default:
			}
			log.Errorf("[VIRTUAL DRIVER] listening routine has closed because : %v", err)
			return err
		}
		b.mu.Lock()
		framehandler := b.framehandler
		b.mu.Unlock()
		if framehandler != nil {
			framehandler.Handle(*frame)
		}
	}
}
