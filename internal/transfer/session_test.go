package transfer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionHappyPath(t *testing.T) {
	s := NewSession()
	s.HandleMeta(&protocol.FileMeta{Filename: "photo.png", MIMEType: "image/png", Size: 204800, HasSize: true})

	first := bytes.Repeat([]byte{1}, 102400)
	second := bytes.Repeat([]byte{2}, 102400)

	require.True(t, s.HandleChunk(&protocol.FileChunk{Seq: 1, Data: first, Percent: 50}))
	assert.Equal(t, 50, s.Percent())
	_, err := s.Artifact()
	assert.ErrorIs(t, err, ErrIncomplete)

	require.True(t, s.HandleChunk(&protocol.FileChunk{Seq: 2, Data: second, Percent: 100}))
	assert.True(t, s.Complete())

	art, err := s.Artifact()
	require.NoError(t, err)
	assert.Len(t, art.Data, 204800)
	assert.Equal(t, "image/png", art.MIMEType)
	assert.Equal(t, "photo.png", art.Meta.Filename)
	assert.True(t, bytes.Equal(append(first, second...), art.Data))
}

func TestSessionResetOnReannounce(t *testing.T) {
	s := NewSession()
	s.HandleMeta(&protocol.FileMeta{Filename: "a.txt"})
	s.HandleChunk(&protocol.FileChunk{Data: []byte("AAAA"), Percent: 40})

	s.HandleMeta(&protocol.FileMeta{Filename: "b.txt"})
	assert.Equal(t, 0, s.Percent())
	assert.Equal(t, int64(0), s.Received())

	s.HandleChunk(&protocol.FileChunk{Data: []byte("BB"), Percent: 60})
	s.HandleChunk(&protocol.FileChunk{Data: []byte("B"), Percent: 100})

	art, err := s.Artifact()
	require.NoError(t, err)
	assert.Equal(t, "BBB", string(art.Data))
	assert.Equal(t, "b.txt", art.Meta.Filename)
}

func TestSessionAbortNeverYieldsArtifact(t *testing.T) {
	s := NewSession()
	s.HandleMeta(&protocol.FileMeta{Filename: "a.bin"})
	s.HandleChunk(&protocol.FileChunk{Data: []byte("partial"), Percent: 30})
	s.Abort()

	_, err := s.Artifact()
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.False(t, s.Active())

	// Stray chunks from the dead transfer are ignored.
	assert.False(t, s.HandleChunk(&protocol.FileChunk{Data: []byte("late"), Percent: 100}))
	_, err = s.Artifact()
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestSessionIgnoresChunksOutsideTransfer(t *testing.T) {
	s := NewSession()
	assert.False(t, s.HandleChunk(&protocol.FileChunk{Data: []byte("x"), Percent: 100}))

	s.HandleMeta(&protocol.FileMeta{Filename: "a"})
	s.HandleChunk(&protocol.FileChunk{Data: []byte("done"), Percent: 100})
	assert.False(t, s.HandleChunk(&protocol.FileChunk{Data: []byte("extra"), Percent: 100}))

	art, err := s.Artifact()
	require.NoError(t, err)
	assert.Equal(t, "done", string(art.Data))
}

func TestSessionDefaultsMIMEType(t *testing.T) {
	s := NewSession()
	s.HandleMeta(&protocol.FileMeta{Filename: "blob"})
	s.HandleChunk(&protocol.FileChunk{Percent: 100})

	art, err := s.Artifact()
	require.NoError(t, err)
	assert.Equal(t, DefaultMIMEType, art.MIMEType)
	assert.Empty(t, art.Data)
}

func TestSessionReentrant(t *testing.T) {
	s := NewSession()
	for _, name := range []string{"one", "two", "three"} {
		s.HandleMeta(&protocol.FileMeta{Filename: name})
		s.HandleChunk(&protocol.FileChunk{Data: []byte(name), Percent: 100})

		art, err := s.Artifact()
		require.NoError(t, err)
		assert.Equal(t, name, string(art.Data))
	}
}

func TestSessionVerifiesChecksum(t *testing.T) {
	sum, err := HashFile(strings.NewReader("hello"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		checksum string
		data     string
		wantErr  bool
	}{
		{"no checksum", "", "anything", false},
		{"match", sum, "hello", false},
		{"missing prefix", strings.ToUpper(sum[len(checksumPrefix):]), "hello", true},
		{"mismatch", sum, "hellO", true},
		{"unsupported algorithm", "md5:5d41402abc4b2a76b9719d911017c592", "hello", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession()
			s.HandleMeta(&protocol.FileMeta{Filename: "f", Checksum: tt.checksum})
			s.HandleChunk(&protocol.FileChunk{Data: []byte(tt.data), Percent: 100})

			_, err := s.Artifact()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrVerification)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
