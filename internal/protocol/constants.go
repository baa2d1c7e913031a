package protocol

import "fmt"

const (
	// MaxFrameSize bounds a single encoded event. It leaves headroom over
	// the default 1 MiB chunk for the envelope fields.
	MaxFrameSize = 4 * 1024 * 1024
	// MaxFilenameSize mirrors common filesystem limits.
	MaxFilenameSize = 255
)

type MessageType uint16

const (
	MsgAck         MessageType = 0x0032
	MsgError       MessageType = 0x00FF
	MsgFileChunk   MessageType = 0x0031
	MsgFileMeta    MessageType = 0x0030
	MsgJoinRoom    MessageType = 0x0010
	MsgJoined      MessageType = 0x0011
	MsgLeaveRoom   MessageType = 0x0012
	MsgPeerJoined  MessageType = 0x0020
	MsgPeerLeft    MessageType = 0x0021
	MsgPing        MessageType = 0x0001
	MsgPong        MessageType = 0x0002
	MsgRoomExpired MessageType = 0x0023
	MsgRoomFull    MessageType = 0x0022
)

// String returns the event name used on the wire by the web client.
func (t MessageType) String() string {
	switch t {
	case MsgAck:
		return "ack"
	case MsgError:
		return "error"
	case MsgFileChunk:
		return "file-chunk"
	case MsgFileMeta:
		return "file-meta"
	case MsgJoinRoom:
		return "join-room"
	case MsgJoined:
		return "joined"
	case MsgLeaveRoom:
		return "leave-room"
	case MsgPeerJoined:
		return "receiver-joined"
	case MsgPeerLeft:
		return "receiver-left"
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	case MsgRoomExpired:
		return "room-expired"
	case MsgRoomFull:
		return "room-full"
	default:
		return "unknown"
	}
}

type ErrorCode uint16

const (
	ErrInternal          ErrorCode = 0x00FF
	ErrInvalidCode       ErrorCode = 0x0002
	ErrInvalidMsg        ErrorCode = 0x0001
	ErrNotInRoom         ErrorCode = 0x0005
	ErrProtocolViolation ErrorCode = 0x0006
	ErrRoleTaken         ErrorCode = 0x0003
	ErrRoomSealed        ErrorCode = 0x0004
	ErrUnknown           ErrorCode = 0x0000
)

func (e ErrorCode) String() string {
	switch e {
	case ErrInternal:
		return "internal-error"
	case ErrInvalidCode:
		return "invalid-code"
	case ErrInvalidMsg:
		return "invalid-message"
	case ErrNotInRoom:
		return "not-in-room"
	case ErrProtocolViolation:
		return "protocol-violation"
	case ErrRoleTaken:
		return "role-taken"
	case ErrRoomSealed:
		return "room-sealed"
	default:
		return "unknown"
	}
}

// Role is the side a connection claims when joining. RoleAny keeps the
// implicit behaviour where whoever announces a file is the sender.
type Role uint8

const (
	RoleAny Role = iota
	RoleSender
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "any"
	}
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "", "any":
		return RoleAny, nil
	case "sender":
		return RoleSender, nil
	case "receiver":
		return RoleReceiver, nil
	default:
		return RoleAny, fmt.Errorf("unknown role %q", s)
	}
}

// AckStatus is the outcome of relaying one event to the other occupant.
type AckStatus uint8

const (
	AckUnknown AckStatus = iota
	AckDelivered
	AckNoPeer
)

func (s AckStatus) String() string {
	switch s {
	case AckDelivered:
		return "delivered"
	case AckNoPeer:
		return "no-peer"
	default:
		return "unknown"
	}
}
