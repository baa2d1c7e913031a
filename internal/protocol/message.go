package protocol

import "fmt"

type Message interface {
	Type() MessageType
}

type Ack struct {
	Event  MessageType
	Seq    uint64
	Status AckStatus
}

func (Ack) Type() MessageType { return MsgAck }

type Error struct {
	Code    ErrorCode
	Message string
}

func (Error) Type() MessageType { return MsgError }

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FileChunk is one ordered slice of the file. Percent is the sender's
// cumulative progress; 100 marks the last chunk of the transfer.
type FileChunk struct {
	Data    []byte
	Percent int
	Seq     uint64
}

func (FileChunk) Type() MessageType { return MsgFileChunk }

// FileMeta announces a new transfer. Size is meaningful only when HasSize
// is set; Checksum is "sha256:<hex>" or empty.
type FileMeta struct {
	Checksum string
	Filename string
	HasSize  bool
	MIMEType string
	Seq      uint64
	Sharer   string
	Size     int64
}

func (FileMeta) Type() MessageType { return MsgFileMeta }

type JoinRoom struct {
	Code string
	Role Role
}

func (JoinRoom) Type() MessageType { return MsgJoinRoom }

// Joined acknowledges admission. Paired reports whether the joiner found
// a peer already waiting.
type Joined struct {
	Code   string
	Paired bool
	Role   Role
}

func (Joined) Type() MessageType { return MsgJoined }

type LeaveRoom struct{}

func (LeaveRoom) Type() MessageType { return MsgLeaveRoom }

type PeerJoined struct {
	Role Role
}

func (PeerJoined) Type() MessageType { return MsgPeerJoined }

type PeerLeft struct{}

func (PeerLeft) Type() MessageType { return MsgPeerLeft }

type Ping struct{}

func (Ping) Type() MessageType { return MsgPing }

type Pong struct{}

func (Pong) Type() MessageType { return MsgPong }

type RoomExpired struct {
	Code string
}

func (RoomExpired) Type() MessageType { return MsgRoomExpired }

type RoomFull struct {
	Code string
}

func (RoomFull) Type() MessageType { return MsgRoomFull }
