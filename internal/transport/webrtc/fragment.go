package webrtc

import (
	"fmt"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
)

// SCTP messages above 16 KiB are not portable across browsers, so encoded
// events are split. Each fragment starts with a flag byte.
const (
	fragmentSize = 16 * 1024
	flagFinal    = 0
	flagMore     = 1
)

func fragment(data []byte, size int) [][]byte {
	body := size - 1
	frags := make([][]byte, 0, len(data)/body+1)

	for {
		n := min(len(data), body)
		flag := byte(flagFinal)
		if n < len(data) {
			flag = flagMore
		}

		frag := make([]byte, 0, n+1)
		frag = append(frag, flag)
		frag = append(frag, data[:n]...)
		frags = append(frags, frag)

		data = data[n:]
		if flag == flagFinal {
			return frags
		}
	}
}

type reassembler struct {
	buf []byte
}

// add returns the complete frame once its final fragment arrives. A bad
// fragment discards whatever was buffered.
func (r *reassembler) add(frag []byte) ([]byte, bool, error) {
	if len(frag) == 0 {
		r.buf = nil
		return nil, false, fmt.Errorf("%w: empty fragment", transport.ErrMalformed)
	}

	flag, body := frag[0], frag[1:]
	if flag != flagFinal && flag != flagMore {
		r.buf = nil
		return nil, false, fmt.Errorf("%w: fragment flag %d", transport.ErrMalformed, flag)
	}
	if len(r.buf)+len(body) > protocol.MaxFrameSize {
		r.buf = nil
		return nil, false, fmt.Errorf("%w: %w", transport.ErrMalformed, protocol.ErrFrameTooLarge)
	}

	r.buf = append(r.buf, body...)
	if flag == flagMore {
		return nil, false, nil
	}

	frame := r.buf
	r.buf = nil
	return frame, true, nil
}
