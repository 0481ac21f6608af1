package exchange

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/samsamfire/gocanloop/pkg/can"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type readResult struct {
	envelope can.Envelope
	err      error
}

// Scripted bus, records every call in order
type fakeBus struct {
	ops       []string
	writes    []can.Frame
	reads     []readResult
	writeErrs map[int]error
	enableErr error
}

func (b *fakeBus) EnableBank(bank uint8, fifo can.Fifo, filter can.Mask32) error {
	b.ops = append(b.ops, "filter")
	return nil
}

func (b *fakeBus) Configure(mode can.Mode) error {
	b.ops = append(b.ops, "configure")
	return nil
}

func (b *fakeBus) Enable(ctx context.Context) error {
	b.ops = append(b.ops, "enable")
	return b.enableErr
}

func (b *fakeBus) Write(ctx context.Context, frame can.Frame) error {
	b.ops = append(b.ops, "write")
	index := len(b.writes)
	b.writes = append(b.writes, frame)
	return b.writeErrs[index]
}

func (b *fakeBus) Read(ctx context.Context) (can.Envelope, error) {
	b.ops = append(b.ops, "read")
	if len(b.reads) == 0 {
		return can.Envelope{}, errors.New("nothing to read")
	}
	result := b.reads[0]
	b.reads = b.reads[1:]
	return result.envelope, result.err
}

func received(ms int, data ...byte) readResult {
	frame, _ := can.NewExtendedFrame(DefaultID, data)
	return readResult{envelope: can.Envelope{Frame: frame, Timestamp: start.Add(time.Duration(ms) * time.Millisecond)}}
}

func filled(value byte) []byte {
	data := make([]byte, 8)
	for i := range data {
		data[i] = value
	}
	return data
}

func newTestLoop(bus can.Bus) (*Loop, *test.Hook, *[]time.Duration) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	loop := NewLoop(bus, DefaultConfig(), logger)
	sleeps := &[]time.Duration{}
	loop.SetSleeper(func(d time.Duration) { *sleeps = append(*sleeps, d) })
	loop.SetClock(func() time.Time { return start })
	return loop, hook, sleeps
}

func rxRecords(hook *test.Hook) []*log.Entry {
	records := []*log.Entry{}
	for _, entry := range hook.AllEntries() {
		if strings.HasPrefix(entry.Message, "[EXCHANGE] rx") {
			records = append(records, entry)
		}
	}
	return records
}

func TestTransmittedFrames(t *testing.T) {
	bus := &fakeBus{reads: []readResult{received(10, filled(0)...), received(20, filled(1)...), received(30, filled(2)...)}}
	loop, _, sleeps := newTestLoop(bus)
	report, err := loop.Run(context.Background())
	assert.Nil(t, err)

	assert.Len(t, bus.writes, 3)
	for i, frame := range bus.writes {
		assert.True(t, frame.IsExtended())
		assert.EqualValues(t, DefaultID, frame.Identifier())
		assert.EqualValues(t, 8, frame.DLC)
		assert.Equal(t, filled(byte(i)), frame.Payload())
	}
	// Configuration first, then strictly ordered cycles and nothing after the third one
	assert.Equal(t, []string{
		"filter", "configure", "enable",
		"write", "read",
		"write", "read",
		"write", "read",
	}, bus.ops)
	assert.Equal(t, []time.Duration{DefaultInterval, DefaultInterval, DefaultInterval}, *sleeps)
	assert.Equal(t, Report{Cycles: 3, Records: 3}, report)
	assert.Equal(t, StateTerminated, loop.State())
}

func TestDedupeIdempotence(t *testing.T) {
	bus := &fakeBus{reads: []readResult{received(10, filled(5)...), received(20, filled(5)...), received(30, filled(5)...)}}
	loop, hook, _ := newTestLoop(bus)
	report, err := loop.Run(context.Background())
	assert.Nil(t, err)
	records := rxRecords(hook)
	assert.Len(t, records, 1)
	assert.EqualValues(t, 1, report.Records)
	assert.Equal(t, "05 05 05 05 05 05 05 05", records[0].Data["data"])
}

func TestChangeDetection(t *testing.T) {
	bus := &fakeBus{reads: []readResult{
		received(10, filled(0)...),
		received(20, filled(1)...),
		received(30, filled(1)...),
	}}
	loop, hook, _ := newTestLoop(bus)
	_, err := loop.Run(context.Background())
	assert.Nil(t, err)
	records := rxRecords(hook)
	require.Len(t, records, 2)
	assert.Equal(t, "00 00 00 00 00 00 00 00", records[0].Data["data"])
	assert.Equal(t, "01 01 01 01 01 01 01 01", records[1].Data["data"])
}

func TestDeltaBaselineMovesOnDuplicate(t *testing.T) {
	bus := &fakeBus{reads: []readResult{
		received(100, filled(1)...),
		received(350, filled(1)...),
		received(600, filled(2)...),
	}}
	loop, hook, _ := newTestLoop(bus)
	_, err := loop.Run(context.Background())
	assert.Nil(t, err)
	records := rxRecords(hook)
	require.Len(t, records, 2)
	assert.EqualValues(t, 100, records[0].Data["delta_ms"])
	assert.EqualValues(t, 250, records[1].Data["delta_ms"])
}

func TestReceiveErrorKeepsBaseline(t *testing.T) {
	rxErr := errors.New("bus error")
	bus := &fakeBus{reads: []readResult{
		received(100, filled(1)...),
		{err: rxErr},
		received(600, filled(2)...),
	}}
	loop, hook, sleeps := newTestLoop(bus)
	report, err := loop.Run(context.Background())
	assert.Nil(t, err)
	assert.EqualValues(t, 1, report.RxErrors)
	assert.Len(t, *sleeps, 3)

	records := rxRecords(hook)
	require.Len(t, records, 2)
	assert.EqualValues(t, 100, records[0].Data["delta_ms"])
	// Baseline is the last successful reception
	assert.EqualValues(t, 500, records[1].Data["delta_ms"])

	errorEntries := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.ErrorLevel {
			errorEntries++
			assert.Contains(t, entry.Message, "bus error")
		}
	}
	assert.Equal(t, 1, errorEntries)
}

func TestTransmitFailureStillReceives(t *testing.T) {
	bus := &fakeBus{
		reads:     []readResult{received(10, filled(0)...), received(20, filled(0)...), received(30, filled(2)...)},
		writeErrs: map[int]error{1: errors.New("mailbox full")},
	}
	loop, hook, _ := newTestLoop(bus)
	report, err := loop.Run(context.Background())
	assert.Nil(t, err)
	assert.EqualValues(t, 1, report.TxErrors)
	assert.Equal(t, []string{
		"filter", "configure", "enable",
		"write", "read",
		"write", "read",
		"write", "read",
	}, bus.ops)
	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)
}

func TestOneInfoRecordPerTransmit(t *testing.T) {
	bus := &fakeBus{reads: []readResult{received(10, filled(0)...), received(20, filled(0)...), received(30, filled(0)...)}}
	loop, hook, _ := newTestLoop(bus)
	_, err := loop.Run(context.Background())
	assert.Nil(t, err)
	writes := 0
	for _, entry := range hook.AllEntries() {
		if entry.Message == "[EXCHANGE] writing frame" {
			assert.Equal(t, log.InfoLevel, entry.Level)
			writes++
		}
	}
	assert.Equal(t, 3, writes)
}

func TestEnableFailure(t *testing.T) {
	enableErr := errors.New("peripheral did not leave init mode")
	bus := &fakeBus{enableErr: enableErr}
	loop, _, _ := newTestLoop(bus)
	_, err := loop.Run(context.Background())
	assert.ErrorIs(t, err, enableErr)
	assert.Len(t, bus.writes, 0)
	assert.Equal(t, StateConfiguring, loop.State())
}

func TestInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.ID = 0x20000000
	bus := &fakeBus{}
	loop := NewLoop(bus, config, nil)
	_, err := loop.Run(context.Background())
	assert.ErrorIs(t, err, can.ErrInvalidID)
	assert.Len(t, bus.ops, 0)

	config = DefaultConfig()
	config.Mode.Bitrate = 0
	assert.ErrorIs(t, config.Validate(), can.ErrIllegalBitrate)

	config = DefaultConfig()
	config.MaxCycle = ^uint(0)
	assert.NotNil(t, config.Validate())
	config.MaxCycle = MaxCycleLimit
	assert.Nil(t, config.Validate())
}

func TestSingleCycle(t *testing.T) {
	bus := &fakeBus{reads: []readResult{received(10, filled(0)...)}}
	logger, _ := test.NewNullLogger()
	config := DefaultConfig()
	config.MaxCycle = 0
	loop := NewLoop(bus, config, logger)
	loop.SetSleeper(func(time.Duration) {})
	report, err := loop.Run(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, Report{Cycles: 1, Records: 1}, report)
	assert.Equal(t, []string{"filter", "configure", "enable", "write", "read"}, bus.ops)
}

func TestLoopbackController(t *testing.T) {
	controller := can.NewController(nil, nil)
	logger, hook := test.NewNullLogger()
	loop := NewLoop(controller, DefaultConfig(), logger)
	loop.SetSleeper(func(time.Duration) {})
	report, err := loop.Run(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, Report{Cycles: 3, Records: 3}, report)

	records := rxRecords(hook)
	require.Len(t, records, 3)
	last := records[2]
	assert.EqualValues(t, 8, last.Data["len"])
	assert.Equal(t, "02 02 02 02 02 02 02 02", last.Data["data"])
	assert.Equal(t, log.InfoLevel, last.Level)
}

func TestReadTimeout(t *testing.T) {
	controller := can.NewController(nil, nil)
	config := DefaultConfig()
	// Nothing is accepted by this filter, reads time out
	config.Filter.Filter = can.Mask32Standard(0x1)
	config.ReadTimeout = 10 * time.Millisecond
	loop := NewLoop(controller, config, log.New())
	loop.SetSleeper(func(time.Duration) {})
	report, err := loop.Run(context.Background())
	assert.Nil(t, err)
	assert.EqualValues(t, 3, report.RxErrors)
	assert.EqualValues(t, 0, report.Records)
}
