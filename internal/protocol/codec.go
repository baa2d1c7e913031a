package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrUnknownMessage = errors.New("unknown message type")
)

// Envelope field numbers. Every event is a single protobuf message carrying
// the type tag plus whichever fields that event uses.
const (
	fieldType     protowire.Number = 1
	fieldCode     protowire.Number = 2
	fieldRole     protowire.Number = 3
	fieldPaired   protowire.Number = 4
	fieldFilename protowire.Number = 5
	fieldSharer   protowire.Number = 6
	fieldSize     protowire.Number = 7
	fieldMIMEType protowire.Number = 8
	fieldChecksum protowire.Number = 9
	fieldSeq      protowire.Number = 10
	fieldData     protowire.Number = 11
	fieldPercent  protowire.Number = 12
	fieldStatus   protowire.Number = 13
	fieldErrCode  protowire.Number = 14
	fieldMessage  protowire.Number = 15
	fieldEvent    protowire.Number = 16
)

type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

// Encode writes msg as a big-endian uint32 length followed by the envelope.
func (c *Codec) Encode(w io.Writer, msg Message) error {
	data, err := Marshal(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, data)
}

func (c *Codec) Decode(r io.Reader) (Message, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// EncodeToBytes returns the bare envelope, for transports that already
// preserve message boundaries.
func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	return Marshal(msg)
}

func (c *Codec) DecodeFromBytes(data []byte) (Message, error) {
	return Unmarshal(data)
}

func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

func ReadFrame(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func Marshal(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, ErrUnknownMessage
	}

	b := appendVarint(nil, fieldType, uint64(msg.Type()))

	switch m := msg.(type) {
	case *Ack:
		b = appendVarint(b, fieldEvent, uint64(m.Event))
		b = appendVarint(b, fieldSeq, m.Seq)
		b = appendVarint(b, fieldStatus, uint64(m.Status))
	case *Error:
		b = appendVarint(b, fieldErrCode, uint64(m.Code))
		b = appendString(b, fieldMessage, m.Message)
	case *FileChunk:
		if m.Percent < 0 || m.Percent > 100 {
			return nil, fmt.Errorf("percent %d out of range", m.Percent)
		}
		b = appendVarint(b, fieldSeq, m.Seq)
		b = appendVarint(b, fieldPercent, uint64(m.Percent))
		// Always present so an empty final chunk still round-trips.
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Data)
	case *FileMeta:
		b = appendString(b, fieldFilename, m.Filename)
		b = appendString(b, fieldSharer, m.Sharer)
		if m.HasSize {
			b = protowire.AppendTag(b, fieldSize, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(m.Size))
		}
		b = appendString(b, fieldMIMEType, m.MIMEType)
		b = appendString(b, fieldChecksum, m.Checksum)
		b = appendVarint(b, fieldSeq, m.Seq)
	case *JoinRoom:
		b = appendString(b, fieldCode, m.Code)
		b = appendVarint(b, fieldRole, uint64(m.Role))
	case *Joined:
		b = appendString(b, fieldCode, m.Code)
		b = appendVarint(b, fieldRole, uint64(m.Role))
		b = appendVarint(b, fieldPaired, protowire.EncodeBool(m.Paired))
	case *PeerJoined:
		b = appendVarint(b, fieldRole, uint64(m.Role))
	case *RoomExpired:
		b = appendString(b, fieldCode, m.Code)
	case *RoomFull:
		b = appendString(b, fieldCode, m.Code)
	case *LeaveRoom, *PeerLeft, *Ping, *Pong:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}

	if len(b) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return b, nil
}

type envelope struct {
	msgType  MessageType
	code     string
	role     Role
	paired   bool
	filename string
	sharer   string
	size     int64
	hasSize  bool
	mimeType string
	checksum string
	seq      uint64
	data     []byte
	percent  uint64
	status   AckStatus
	errCode  ErrorCode
	message  string
	event    MessageType
}

func (e *envelope) parse(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			e.setVarint(num, v)
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			e.setBytes(num, v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (e *envelope) setVarint(num protowire.Number, v uint64) {
	switch num {
	case fieldType:
		e.msgType = MessageType(v)
	case fieldRole:
		e.role = Role(v)
	case fieldPaired:
		e.paired = protowire.DecodeBool(v)
	case fieldSize:
		e.size = int64(v)
		e.hasSize = true
	case fieldSeq:
		e.seq = v
	case fieldPercent:
		e.percent = v
	case fieldStatus:
		e.status = AckStatus(v)
	case fieldErrCode:
		e.errCode = ErrorCode(v)
	case fieldEvent:
		e.event = MessageType(v)
	}
}

func (e *envelope) setBytes(num protowire.Number, v []byte) {
	switch num {
	case fieldCode:
		e.code = string(v)
	case fieldFilename:
		e.filename = string(v)
	case fieldSharer:
		e.sharer = string(v)
	case fieldMIMEType:
		e.mimeType = string(v)
	case fieldChecksum:
		e.checksum = string(v)
	case fieldData:
		e.data = v
	case fieldMessage:
		e.message = string(v)
	}
}

func Unmarshal(data []byte) (Message, error) {
	var e envelope
	if err := e.parse(data); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	switch e.msgType {
	case MsgAck:
		return &Ack{Event: e.event, Seq: e.seq, Status: e.status}, nil
	case MsgError:
		return &Error{Code: e.errCode, Message: e.message}, nil
	case MsgFileChunk:
		if e.percent > 100 {
			return nil, fmt.Errorf("percent %d out of range", e.percent)
		}
		if e.data == nil {
			e.data = []byte{}
		}
		return &FileChunk{Data: e.data, Percent: int(e.percent), Seq: e.seq}, nil
	case MsgFileMeta:
		return &FileMeta{
			Checksum: e.checksum,
			Filename: e.filename,
			HasSize:  e.hasSize,
			MIMEType: e.mimeType,
			Seq:      e.seq,
			Sharer:   e.sharer,
			Size:     e.size,
		}, nil
	case MsgJoinRoom:
		return &JoinRoom{Code: e.code, Role: e.role}, nil
	case MsgJoined:
		return &Joined{Code: e.code, Paired: e.paired, Role: e.role}, nil
	case MsgLeaveRoom:
		return &LeaveRoom{}, nil
	case MsgPeerJoined:
		return &PeerJoined{Role: e.role}, nil
	case MsgPeerLeft:
		return &PeerLeft{}, nil
	case MsgPing:
		return &Ping{}, nil
	case MsgPong:
		return &Pong{}, nil
	case MsgRoomExpired:
		return &RoomExpired{Code: e.code}, nil
	case MsgRoomFull:
		return &RoomFull{Code: e.code}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnknownMessage, uint16(e.msgType))
	}
}
