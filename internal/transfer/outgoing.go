package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math"
	"mime"
	"path/filepath"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

const (
	// DefaultChunkSize keeps each relayed event well under the frame limit.
	DefaultChunkSize = 1024 * 1024
	// MaxChunkSize leaves room for the envelope around the chunk data.
	MaxChunkSize = protocol.MaxFrameSize - 64*1024
)

// Percent is the progress advertised with a non-final chunk. It never
// reaches 100, which only the final chunk may carry. An unknown size
// reports 0.
func Percent(sent, size int64) int {
	if size <= 0 {
		return 0
	}
	p := int(math.Round(float64(sent) / float64(size) * 100))
	return max(0, min(p, 99))
}

// Outgoing cuts a stream into chunks. It reads one chunk ahead so the last
// chunk can be marked with percent 100.
type Outgoing struct {
	r         io.Reader
	size      int64
	chunkSize int
	sent      int64

	started bool
	done    bool
	cur     []byte
	curLast bool
}

// NewOutgoing reads from r. A negative size means the size is unknown.
func NewOutgoing(r io.Reader, size int64, chunkSize int) *Outgoing {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Outgoing{
		r:         r,
		size:      size,
		chunkSize: chunkSize,
	}
}

func (o *Outgoing) read() ([]byte, bool, error) {
	buf := make([]byte, o.chunkSize)
	n, err := io.ReadFull(o.r, buf)
	switch {
	case err == nil:
		return buf, false, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], true, nil
	default:
		return nil, false, err
	}
}

// Next returns the next chunk, or io.EOF once the final chunk has been
// returned. Seq is left for the caller to assign.
func (o *Outgoing) Next() (*protocol.FileChunk, error) {
	if o.done {
		return nil, io.EOF
	}

	if !o.started {
		cur, last, err := o.read()
		if err != nil {
			return nil, err
		}
		o.started = true
		o.cur, o.curLast = cur, last
	}

	data, last := o.cur, o.curLast
	if !last {
		next, nextLast, err := o.read()
		if err != nil {
			return nil, err
		}
		if len(next) == 0 && nextLast {
			last = true
		} else {
			o.cur, o.curLast = next, nextLast
		}
	}

	o.sent += int64(len(data))
	percent := 100
	if last {
		o.done = true
	} else {
		percent = Percent(o.sent, o.size)
	}

	return &protocol.FileChunk{Data: data, Percent: percent}, nil
}

// Sent is the number of bytes handed out so far.
func (o *Outgoing) Sent() int64 {
	return o.sent
}

// HashFile returns the checksum carried in FileMeta.
func HashFile(r io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return checksumPrefix + hex.EncodeToString(hash.Sum(nil)), nil
}

// DetectMIME guesses a type from the file extension; empty when unknown.
func DetectMIME(filename string) string {
	return mime.TypeByExtension(filepath.Ext(filename))
}
