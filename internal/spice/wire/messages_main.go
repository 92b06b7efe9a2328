package wire

import (
	"bytes"
	"encoding/binary"
)

// MainInit is SPICE_MSG_MAIN_INIT, the channel's required first message.
type MainInit struct {
	SessionID            uint32
	DisplayChannelsHint  uint32
	SupportedMouseModes  uint32
	CurrentMouseMode     uint32
	AgentConnected       uint32
	AgentTokens          uint32
	MultiMediaTime       uint32
	RAMHint              uint32
}

const MainInitSize = 32

func DecodeMainInit(b []byte) MainInit {
	_ = b[MainInitSize-1]
	return MainInit{
		SessionID:           binary.LittleEndian.Uint32(b[0:4]),
		DisplayChannelsHint: binary.LittleEndian.Uint32(b[4:8]),
		SupportedMouseModes: binary.LittleEndian.Uint32(b[8:12]),
		CurrentMouseMode:    binary.LittleEndian.Uint32(b[12:16]),
		AgentConnected:      binary.LittleEndian.Uint32(b[16:20]),
		AgentTokens:         binary.LittleEndian.Uint32(b[20:24]),
		MultiMediaTime:      binary.LittleEndian.Uint32(b[24:28]),
		RAMHint:             binary.LittleEndian.Uint32(b[28:32]),
	}
}

const (
	MouseModeClient uint32 = 1 << 1
	MouseModeServer uint32 = 1 << 0
)

// ChannelListEntry is one record of SPICE_MSG_MAIN_CHANNELS_LIST.
type ChannelListEntry struct {
	Type uint8
	ID   uint8
}

// DecodeChannelsList parses the channels-list body: a 4-byte count followed
// by (type, id) byte pairs.
func DecodeChannelsList(b []byte) []ChannelListEntry {
	if len(b) < 4 {
		return nil
	}
	n := binary.LittleEndian.Uint32(b[0:4])
	out := make([]ChannelListEntry, 0, n)
	off := 4
	for i := uint32(0); i < n && off+2 <= len(b); i++ {
		out = append(out, ChannelListEntry{Type: b[off], ID: b[off+1]})
		off += 2
	}
	return out
}

// EncodeClientInfo builds SPICE_MSGC_MAIN_CLIENT_INFO's mouse-modes body.
func EncodeClientInfo(mouseModes uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, mouseModes)
	return b
}

// EncodeAttachChannels builds the (empty) ATTACH_CHANNELS body.
func EncodeAttachChannels() []byte { return nil }

// EncodeMouseModeRequest builds SPICE_MSGC_MAIN_MOUSE_MODE_REQUEST's body.
func EncodeMouseModeRequest(mode uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, mode)
	return b
}

// DecodeAgentConnectedTokens parses the 4-byte token count carried by
// MAIN_AGENT_CONNECTED_TOKENS.
func DecodeAgentConnectedTokens(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// DecodeAgentToken parses the 4-byte token delta carried by MAIN_AGENT_TOKEN.
func DecodeAgentToken(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// UUIDSize is the fixed byte length of SPICE_MSG_MAIN_UUID's body.
const UUIDSize = 16

// DecodeMainName parses SPICE_MSG_MAIN_NAME's body: a 4-byte length prefix
// followed by a NUL-terminated hostname.
func DecodeMainName(b []byte) string {
	if len(b) < 4 {
		return ""
	}
	body := b[4:]
	if i := bytes.IndexByte(body, 0); i >= 0 {
		body = body[:i]
	}
	return string(body)
}

// DecodeMainUUID parses SPICE_MSG_MAIN_UUID's fixed 16-byte body.
func DecodeMainUUID(b []byte) [UUIDSize]byte {
	var u [UUIDSize]byte
	copy(u[:], b)
	return u
}

// DecodeAgentDisconnected reads the 4-byte reason code carried by
// MAIN_AGENT_DISCONNECTED.
func DecodeAgentDisconnected(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}
