// Package transfer splits outgoing files into relay chunks and rebuilds
// incoming ones.
package transfer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

const (
	DefaultMIMEType = "application/octet-stream"
	checksumPrefix  = "sha256:"
)

var (
	ErrIncomplete   = errors.New("transfer incomplete")
	ErrVerification = errors.New("checksum mismatch")
)

// Artifact is a fully received file.
type Artifact struct {
	Meta     protocol.FileMeta
	MIMEType string
	Data     []byte
}

// Session accumulates one incoming transfer at a time. A new FileMeta always
// starts over, whatever state the previous transfer was in. Not safe for
// concurrent use.
type Session struct {
	meta     *protocol.FileMeta
	chunks   [][]byte
	received int64
	percent  int
	complete bool
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) HandleMeta(meta *protocol.FileMeta) {
	m := *meta
	s.meta = &m
	s.chunks = nil
	s.received = 0
	s.percent = 0
	s.complete = false
}

// HandleChunk appends the chunk to the current transfer. It reports false
// for chunks that belong to no transfer: none announced yet, or the last
// one already finished.
func (s *Session) HandleChunk(chunk *protocol.FileChunk) bool {
	if s.meta == nil || s.complete {
		return false
	}

	s.chunks = append(s.chunks, chunk.Data)
	s.received += int64(len(chunk.Data))
	s.percent = chunk.Percent
	if chunk.Percent == 100 {
		s.complete = true
	}
	return true
}

// Abort drops the current transfer; nothing received so far is kept.
func (s *Session) Abort() {
	s.meta = nil
	s.chunks = nil
	s.received = 0
	s.percent = 0
	s.complete = false
}

func (s *Session) Active() bool {
	return s.meta != nil && !s.complete
}

func (s *Session) Complete() bool {
	return s.complete
}

func (s *Session) Percent() int {
	return s.percent
}

// Received is the number of payload bytes accumulated for this transfer.
func (s *Session) Received() int64 {
	return s.received
}

func (s *Session) Meta() (protocol.FileMeta, bool) {
	if s.meta == nil {
		return protocol.FileMeta{}, false
	}
	return *s.meta, true
}

// Artifact concatenates the chunks of a completed transfer in arrival order.
func (s *Session) Artifact() (*Artifact, error) {
	if s.meta == nil || !s.complete {
		return nil, ErrIncomplete
	}

	data := bytes.Join(s.chunks, nil)
	if err := verify(s.meta.Checksum, data); err != nil {
		return nil, err
	}

	mimeType := s.meta.MIMEType
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}

	return &Artifact{
		Meta:     *s.meta,
		MIMEType: mimeType,
		Data:     data,
	}, nil
}

func verify(checksum string, data []byte) error {
	if checksum == "" {
		return nil
	}

	want, ok := strings.CutPrefix(checksum, checksumPrefix)
	if !ok {
		return fmt.Errorf("%w: unsupported checksum %q", ErrVerification, checksum)
	}

	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: got %s%s, want %s", ErrVerification, checksumPrefix, got, checksum)
	}
	return nil
}
