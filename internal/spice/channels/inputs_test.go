package channels

import (
	"testing"

	"github.com/alxayo/go-spice/internal/errors"
	"github.com/alxayo/go-spice/internal/spice/channel"
	"github.com/alxayo/go-spice/internal/spice/frame"
	"github.com/alxayo/go-spice/internal/spice/wire"
)

type stubInputsWriter struct {
	single []channel.Record
	batch  [][]channel.Record
}

func (s *stubInputsWriter) Write(msgType uint16, payload []byte) error {
	s.single = append(s.single, channel.Record{MsgType: msgType, Payload: payload})
	return nil
}

func (s *stubInputsWriter) WriteBatch(records []channel.Record) error {
	s.batch = append(s.batch, records)
	return nil
}

func newInputsHandlerForTest() (*InputsHandler, *stubInputsWriter) {
	h := NewInputsHandler()
	stub := &stubInputsWriter{}
	h.ch = stub
	return h, stub
}

func TestMouseMotionFragmentation(t *testing.T) {
	h, stub := newInputsHandlerForTest()
	if err := h.MouseMotion(300, -10, 0); err != nil {
		t.Fatalf("MouseMotion: %v", err)
	}
	if len(stub.batch) != 1 {
		t.Fatalf("expected one batched write, got %d", len(stub.batch))
	}
	records := stub.batch[0]
	if len(records) != 3 {
		t.Fatalf("expected 3 motion records, got %d", len(records))
	}
	wantDX := []int32{127, 127, 46}
	wantDY := []int32{-10, 0, 0}
	var sumDX, sumDY int32
	for i, r := range records {
		m := decodeMouseMotion(t, r.Payload)
		if m.DX != wantDX[i] || m.DY != wantDY[i] {
			t.Fatalf("record %d = (%d,%d), want (%d,%d)", i, m.DX, m.DY, wantDX[i], wantDY[i])
		}
		sumDX += m.DX
		sumDY += m.DY
	}
	if sumDX != 300 || sumDY != -10 {
		t.Fatalf("sum = (%d,%d), want (300,-10)", sumDX, sumDY)
	}
}

func TestMouseMotionRecordsClampedWithinRange(t *testing.T) {
	h, stub := newInputsHandlerForTest()
	if err := h.MouseMotion(1000, 1000, 0); err != nil {
		t.Fatalf("MouseMotion: %v", err)
	}
	for _, r := range stub.batch[0] {
		m := decodeMouseMotion(t, r.Payload)
		if m.DX > 127 || m.DX < -127 || m.DY > 127 || m.DY < -127 {
			t.Fatalf("record out of clamp range: %+v", m)
		}
	}
}

func TestMouseMotionAckUnderflowIsFlowError(t *testing.T) {
	h, _ := newInputsHandlerForTest()
	h.outstanding.Store(2)

	err := h.handleMouseMotionAck(&frame.Message{Type: wire.MsgInputsMouseMotionAck})
	if err == nil {
		t.Fatalf("expected error on ack underflow")
	}
	if !errors.IsKind(err, errors.KindFlow) {
		t.Fatalf("expected a flow error, got %v", err)
	}
}

func TestMouseMotionAckDecrementsOutstanding(t *testing.T) {
	h, _ := newInputsHandlerForTest()
	h.outstanding.Store(10)
	if err := h.handleMouseMotionAck(&frame.Message{Type: wire.MsgInputsMouseMotionAck}); err != nil {
		t.Fatalf("handleMouseMotionAck: %v", err)
	}
	if got := h.outstanding.Load(); got != 10-int64(wire.MotionAckBunch) {
		t.Fatalf("outstanding = %d, want %d", got, 10-int64(wire.MotionAckBunch))
	}
}

func TestKeyDownEncodesExtendedScanCode(t *testing.T) {
	h, stub := newInputsHandlerForTest()
	if err := h.KeyDown(0x11c); err != nil {
		t.Fatalf("KeyDown: %v", err)
	}
	if len(stub.single) != 1 {
		t.Fatalf("expected one KEY_DOWN record")
	}
	r := stub.single[0]
	if r.MsgType != wire.MsgcInputsKeyDown {
		t.Fatalf("msg type = %d, want KEY_DOWN", r.MsgType)
	}
}

func TestHandleInitStoresModifiers(t *testing.T) {
	h, _ := newInputsHandlerForTest()
	body := []byte{0x03, 0x00}
	if err := h.handleInit(&frame.Message{Type: wire.MsgInputsInit, Payload: body}); err != nil {
		t.Fatalf("handleInit: %v", err)
	}
	if h.Modifiers() != 0x0003 {
		t.Fatalf("modifiers = %#x, want 0x3", h.Modifiers())
	}
}

func decodeMouseMotion(t *testing.T, payload []byte) wire.MouseMotion {
	t.Helper()
	if len(payload) < 12 {
		t.Fatalf("motion payload too short: %d", len(payload))
	}
	dx := int32(uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24)
	dy := int32(uint32(payload[4]) | uint32(payload[5])<<8 | uint32(payload[6])<<16 | uint32(payload[7])<<24)
	return wire.MouseMotion{DX: dx, DY: dy}
}
