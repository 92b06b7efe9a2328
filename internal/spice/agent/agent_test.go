package agent

import (
	"sync"
	"testing"

	"github.com/alxayo/go-spice/internal/spice/wire"
)

// fakeWriter records every frame an Agent attempts to send and lets tests
// decode the outer VDAgentMessage(s) it produced.
type fakeWriter struct {
	mu   sync.Mutex
	sent [][]byte
}

func (w *fakeWriter) write(msgType uint16, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if msgType != wire.MsgcMainAgentData && msgType != wire.MsgcMainAgentStart {
		return nil
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	w.sent = append(w.sent, cp)
	return nil
}

func (w *fakeWriter) frames() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]byte, len(w.sent))
	copy(out, w.sent)
	return out
}

func newTestAgent(t *testing.T) (*Agent, *fakeWriter) {
	t.Helper()
	fw := &fakeWriter{}
	a := New(fw.write, Sinks{})
	return a, fw
}

func TestConnectSendsStartThenCaps(t *testing.T) {
	a, fw := newTestAgent(t)
	a.SetServerTokens(10)

	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !a.Present() {
		t.Fatalf("expected agent present after Connect")
	}

	frames := fw.frames()
	if len(frames) < 2 {
		t.Fatalf("expected at least 2 sent frames (start + caps), got %d", len(frames))
	}
	if len(frames[0]) != 4 {
		t.Fatalf("AGENT_START body len = %d, want 4", len(frames[0]))
	}

	outer := wire.DecodeVDAgentMessage(frames[1])
	if outer.Type != wire.VDAgentAnnounceCapabilities {
		t.Fatalf("second frame type = %d, want AnnounceCapabilities", outer.Type)
	}
}

func TestGrabRequiresPresence(t *testing.T) {
	a, _ := newTestAgent(t)
	if err := a.Grab([]ClipboardType{ClipboardText}); err == nil {
		t.Fatalf("expected error granting before Connect")
	}
}

func TestGrabEmptyTypesRejected(t *testing.T) {
	a, _ := newTestAgent(t)
	a.SetServerTokens(10)
	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := a.Grab(nil); err == nil {
		t.Fatalf("expected error granting with no types")
	}
}

func TestHandleClipboardGrabFiresNotice(t *testing.T) {
	var got ClipboardType = -1
	fw := &fakeWriter{}
	a := New(fw.write, Sinks{Notice: func(t ClipboardType) { got = t }})
	a.SetServerTokens(10)
	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	body := wire.EncodeClipboardGrab([]uint32{wire.VDAgentClipboardUTF8Text})
	msg := encodeOuter(wire.VDAgentClipboardGrab, body)
	if err := a.HandleData(msg); err != nil {
		t.Fatalf("HandleData: %v", err)
	}
	if got != ClipboardText {
		t.Fatalf("notice type = %v, want text", got)
	}
}

func TestHandleClipboardReleaseFiresSink(t *testing.T) {
	fired := false
	fw := &fakeWriter{}
	a := New(fw.write, Sinks{Release: func() { fired = true }})
	a.SetServerTokens(10)
	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	msg := encodeOuter(wire.VDAgentClipboardRelease, nil)
	if err := a.HandleData(msg); err != nil {
		t.Fatalf("HandleData: %v", err)
	}
	if !fired {
		t.Fatalf("expected Release sink to fire")
	}
}

func TestHandleClipboardRequestForwardsType(t *testing.T) {
	var got ClipboardType = -1
	fw := &fakeWriter{}
	a := New(fw.write, Sinks{Request: func(t ClipboardType) { got = t }})
	a.SetServerTokens(10)
	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	body := wire.EncodeClipboardRequest(wire.VDAgentClipboardImagePNG)
	msg := encodeOuter(wire.VDAgentClipboardRequest, body)
	if err := a.HandleData(msg); err != nil {
		t.Fatalf("HandleData: %v", err)
	}
	if got != ClipboardPNG {
		t.Fatalf("request type = %v, want png", got)
	}
}

func TestClipboardTransferSingleFragment(t *testing.T) {
	var gotType ClipboardType = -1
	var gotData []byte
	fw := &fakeWriter{}
	a := New(fw.write, Sinks{Data: func(t ClipboardType, d []byte) {
		gotType = t
		gotData = d
	}})
	a.SetServerTokens(10)
	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	payload := []byte("hello clipboard")
	body := wire.EncodeClipboardData(wire.VDAgentClipboardUTF8Text, payload)
	msg := encodeOuter(wire.VDAgentClipboard, body)
	if err := a.HandleData(msg); err != nil {
		t.Fatalf("HandleData: %v", err)
	}
	if gotType != ClipboardText {
		t.Fatalf("data type = %v, want text", gotType)
	}
	if string(gotData) != string(payload) {
		t.Fatalf("data = %q, want %q", gotData, payload)
	}
}

func TestClipboardTransferTwoFragments(t *testing.T) {
	var gotData []byte
	fw := &fakeWriter{}
	a := New(fw.write, Sinks{Data: func(_ ClipboardType, d []byte) { gotData = d }})
	a.SetServerTokens(10)
	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	full := make([]byte, 1000)
	for i := range full {
		full[i] = byte(i)
	}

	split := 400
	firstBody := wire.EncodeClipboardData(wire.VDAgentClipboardUTF8Text, full[:split])
	// Craft the first record's outer Size to reflect the *whole* logical
	// message (type field + entire data), per spec §4.6.
	outerSize := uint32(4 + len(full))
	firstMsg := encodeOuterSized(wire.VDAgentClipboard, firstBody, outerSize)

	if err := a.HandleData(firstMsg); err != nil {
		t.Fatalf("HandleData (first fragment): %v", err)
	}
	if gotData != nil {
		t.Fatalf("data callback fired early, before reassembly complete")
	}

	if err := a.HandleData(full[split:]); err != nil {
		t.Fatalf("HandleData (continuation): %v", err)
	}
	if len(gotData) != 1000 {
		t.Fatalf("reassembled data len = %d, want 1000", len(gotData))
	}
	for i, b := range gotData {
		if b != byte(i) {
			t.Fatalf("reassembled data mismatch at %d: got %d, want %d", i, b, byte(i))
		}
	}
}

func TestReassemblyTreatsMidTransferBytesAsRawContinuation(t *testing.T) {
	fw := &fakeWriter{}
	a := New(fw.write, Sinks{})
	a.SetServerTokens(10)
	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	full := make([]byte, 100)
	firstBody := wire.EncodeClipboardData(wire.VDAgentClipboardUTF8Text, full[:50])
	firstMsg := encodeOuterSized(wire.VDAgentClipboard, firstBody, uint32(4+len(full)))
	if err := a.HandleData(firstMsg); err != nil {
		t.Fatalf("HandleData (first): %v", err)
	}

	// While cbRemain > 0, every subsequent record is raw continuation
	// bytes, never re-parsed as an outer VDAgentMessage.
	if err := a.HandleData(full[50:]); err != nil {
		t.Fatalf("HandleData (continuation): %v", err)
	}
}

func TestTokenFlowControlDelaysSendUntilTokenAvailable(t *testing.T) {
	fw := &fakeWriter{}
	a := New(fw.write, Sinks{})
	a.SetServerTokens(10)
	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	fw.mu.Lock()
	fw.sent = nil
	fw.mu.Unlock()
	a.SetServerTokens(0)

	if err := a.SendData(ClipboardText, []byte("queued")); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	if len(fw.frames()) != 0 {
		t.Fatalf("expected nothing sent while token budget is exhausted")
	}

	a.AddTokens(5)
	if len(fw.frames()) == 0 {
		t.Fatalf("expected queue to drain once tokens arrived")
	}
}

func TestClipboardTypeMappingRoundTrips(t *testing.T) {
	pairs := []struct {
		pub  ClipboardType
		code uint32
	}{
		{ClipboardText, wire.VDAgentClipboardUTF8Text},
		{ClipboardPNG, wire.VDAgentClipboardImagePNG},
		{ClipboardBMP, wire.VDAgentClipboardImageBMP},
		{ClipboardTIFF, wire.VDAgentClipboardImageTIFF},
		{ClipboardJPEG, wire.VDAgentClipboardImageJPG},
	}
	for _, p := range pairs {
		if got := publicToAgentType(p.pub); got != p.code {
			t.Errorf("publicToAgentType(%v) = %d, want %d", p.pub, got, p.code)
		}
		if got := agentToPublicType(p.code); got != p.pub {
			t.Errorf("agentToPublicType(%d) = %v, want %v", p.code, got, p.pub)
		}
	}
	if agentToPublicType(9999) != ClipboardNone {
		t.Errorf("unknown code should map to ClipboardNone")
	}
}

func encodeOuter(msgType uint32, body []byte) []byte {
	return encodeOuterSized(msgType, body, uint32(len(body)))
}

func encodeOuterSized(msgType uint32, body []byte, size uint32) []byte {
	buf := make([]byte, wire.VDAgentMessageSize+len(body))
	hdr := wire.VDAgentMessage{Protocol: wire.VDAgentProtocol, Type: msgType, Size: size}
	hdr.Encode(buf[:wire.VDAgentMessageSize])
	copy(buf[wire.VDAgentMessageSize:], body)
	return buf
}
