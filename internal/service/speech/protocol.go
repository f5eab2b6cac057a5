package speech

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// 火山引擎语音 websocket 二进制帧：
//
//	byte0: protocol version(4) | header size in 4-byte words(4)
//	byte1: message type(4)     | message flags(4)
//	byte2: serialization(4)    | compression(4)
//	byte3: reserved
//
// 之后依次为可选的 sequence、事件元数据、错误码、payload size 与 payload，均为大端序。

const protocolVersion = 0b0001

// MessageType 帧类型
type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

// MessageFlags 帧标志位，低两位描述 sequence，第三位表示携带事件
type MessageFlags uint8

const (
	NoSequence       MessageFlags = 0b0000
	PositiveSequence MessageFlags = 0b0001
	LastNoSequence   MessageFlags = 0b0010
	NegativeSequence MessageFlags = 0b0011
	WithEvent        MessageFlags = 0b0100

	sequenceMask MessageFlags = 0b0011
)

// Serialization payload 序列化方式
type Serialization uint8

const (
	RawSerialization  Serialization = 0b0000
	JSONSerialization Serialization = 0b0001
)

// Compression payload 压缩方式
type Compression uint8

const (
	NoCompression   Compression = 0b0000
	GzipCompression Compression = 0b0001
)

// EventType 服务端事件
type EventType int32

const (
	EventStartConnection    EventType = 1
	EventFinishConnection   EventType = 2
	EventConnectionStarted  EventType = 50
	EventConnectionFailed   EventType = 51
	EventConnectionFinished EventType = 52
	EventSessionStarted     EventType = 150
	EventSessionFinished    EventType = 152
	EventSessionFailed      EventType = 153
)

var errShortFrame = errors.New("frame truncated")

// Frame 一个完整的协议帧
type Frame struct {
	Type          MessageType
	Flags         MessageFlags
	Serialization Serialization
	Compression   Compression
	Sequence      int32
	Event         EventType
	SessionID     string
	ConnectID     string
	ErrorCode     uint32
	Payload       []byte
}

func (f *Frame) hasSequence() bool {
	seq := f.Flags & sequenceMask
	return seq == PositiveSequence || seq == NegativeSequence
}

func (f *Frame) hasEvent() bool {
	return f.Flags&WithEvent == WithEvent
}

// IsLast 判断是否为最后一包
func (f *Frame) IsLast() bool {
	seq := f.Flags & sequenceMask
	return seq == LastNoSequence || seq == NegativeSequence
}

// Marshal 编码为二进制帧
func (f *Frame) Marshal() []byte {
	buf := make([]byte, 0, 16+len(f.Payload))
	buf = append(buf,
		protocolVersion<<4|0b0001,
		uint8(f.Type)<<4|uint8(f.Flags),
		uint8(f.Serialization)<<4|uint8(f.Compression),
		0x00,
	)

	if f.hasSequence() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(f.Sequence))
	}

	if f.hasEvent() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(f.Event))
		if !eventSkipsSessionID(f.Event) {
			buf = appendSized(buf, f.SessionID)
		}
		if eventHasConnectID(f.Event) {
			buf = appendSized(buf, f.ConnectID)
		}
	}

	if f.Type == ErrorMessage {
		buf = binary.BigEndian.AppendUint32(buf, f.ErrorCode)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Payload)))
	return append(buf, f.Payload...)
}

// ParseFrame 解码二进制帧
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("header: %w (got %d bytes)", errShortFrame, len(data))
	}
	if version := data[0] >> 4; version != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}

	headerLen := int(data[0]&0x0F) * 4
	if headerLen < 4 || len(data) < headerLen {
		return nil, fmt.Errorf("header size %d: %w", headerLen, errShortFrame)
	}

	f := &Frame{
		Type:          MessageType(data[1] >> 4),
		Flags:         MessageFlags(data[1] & 0x0F),
		Serialization: Serialization(data[2] >> 4),
		Compression:   Compression(data[2] & 0x0F),
	}
	r := frameReader{buf: data[headerLen:]}

	if f.hasSequence() {
		f.Sequence = int32(r.uint32())
	}

	if f.hasEvent() {
		f.Event = EventType(r.uint32())
		if !eventSkipsSessionID(f.Event) {
			f.SessionID = r.sized()
		}
		if eventHasConnectID(f.Event) {
			f.ConnectID = r.sized()
		}
	}

	if f.Type == ErrorMessage {
		f.ErrorCode = r.uint32()
	}

	size := r.uint32()
	f.Payload = r.bytes(int(size))

	if r.err != nil {
		return nil, fmt.Errorf("decode %d-byte frame: %w", len(data), r.err)
	}
	return f, nil
}

func newFullClientRequest(payload []byte, compression Compression) *Frame {
	return &Frame{
		Type:          FullClientRequest,
		Flags:         NoSequence,
		Serialization: JSONSerialization,
		Compression:   compression,
		Payload:       payload,
	}
}

// newAudioOnlyRequest 最后一包使用负序号标记
func newAudioOnlyRequest(chunk []byte, sequence int32, last bool, compression Compression) *Frame {
	f := &Frame{
		Type:          AudioOnlyRequest,
		Serialization: RawSerialization,
		Compression:   compression,
		Sequence:      sequence,
		Payload:       chunk,
	}

	switch {
	case last && sequence != 0:
		f.Flags = NegativeSequence
		f.Sequence = -sequence
	case last:
		f.Flags = LastNoSequence
	case sequence > 0:
		f.Flags = PositiveSequence
	default:
		f.Flags = NoSequence
	}
	return f
}

func eventSkipsSessionID(event EventType) bool {
	switch event {
	case EventStartConnection, EventFinishConnection,
		EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	default:
		return false
	}
}

func eventHasConnectID(event EventType) bool {
	switch event {
	case EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	default:
		return false
	}
}

func appendSized(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// frameReader 记录首个错误，后续读取全部短路
type frameReader struct {
	buf []byte
	err error
}

func (r *frameReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf) < n {
		r.err = errShortFrame
		return nil
	}
	out := r.buf[:n:n]
	r.buf = r.buf[n:]
	if n == 0 {
		return nil
	}
	return out
}

func (r *frameReader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *frameReader) sized() string {
	n := r.uint32()
	return string(r.bytes(int(n)))
}
