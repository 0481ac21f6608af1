package exchange

import (
	"fmt"
	"time"

	"github.com/samsamfire/gocanloop/pkg/can"
)

// A log record, emitted when the received payload changed
type Record struct {
	Length uint8         // Declared length of the received frame
	Data   []byte        // Declared-length payload
	Delta  time.Duration // Time since previous successful reception
}

func (r Record) DeltaMs() int64 {
	return r.Delta.Milliseconds()
}

func (r Record) Hex() string {
	return fmt.Sprintf("% x", r.Data)
}

// Last observed payload and the timestamp baseline used for latency.
// Owned by a single loop run.
type observation struct {
	baseline time.Time
	seen     bool
	length   uint8
	payload  [can.MaxDataLength]byte
}

func newObservation(start time.Time) *observation {
	return &observation{baseline: start}
}

// Declared-length payload zero padded to 8 bytes.
// An invalid declared length gives an empty payload.
func snapshot(frame can.Frame) ([can.MaxDataLength]byte, []byte) {
	var payload [can.MaxDataLength]byte
	data := frame.Payload()
	copy(payload[:], data)
	return payload, append([]byte{}, data...)
}

// Evaluate a successful reception. The baseline always moves to the
// envelope timestamp, a record is returned only for a first or changed payload.
// Payloads are compared together with their declared length.
func (o *observation) observe(envelope can.Envelope) (Record, bool) {
	delta := envelope.Timestamp.Sub(o.baseline)
	o.baseline = envelope.Timestamp

	payload, data := snapshot(envelope.Frame)
	length := envelope.Frame.DLC
	if o.seen && o.payload == payload && o.length == length {
		return Record{}, false
	}
	o.seen = true
	o.payload = payload
	o.length = length
	return Record{Length: length, Data: data, Delta: delta}, true
}
