package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func setupRelay(t *testing.T) *relay.Server {
	t.Helper()

	cfg := relay.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.WebRTC = false
	cfg.Logger = logger.Discard()

	srv, err := relay.NewServer(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = srv.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = srv.Shutdown()
	})
	return srv
}

// writeConfig returns a config file pointing a client at relayAddr with its
// own download directory and history database under dir.
func writeConfig(t *testing.T, dir, relayAddr string) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := fmt.Sprintf(`client:
  relay_url: %q
  name: tester
  link_base: "https://drop.example/"
  download_dir: %q
  history_db: %q
`, "ws://"+relayAddr+"/ws", filepath.Join(dir, "downloads"), filepath.Join(dir, "history.sqlite3"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLinkForCode(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "127.0.0.1:1")

	out, err := execute(testContext(t), "link", "482913", "-c", cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://drop.example/?code=482913&mode=receiver\n", out)

	out, err = execute(testContext(t), "link", "482913", "--base", "https://other.example/drop", "-c", cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/drop?code=482913&mode=receiver\n", out)
}

func TestLinkGeneratesCode(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "127.0.0.1:1")

	out, err := execute(testContext(t), "link", "-c", cfg)
	require.NoError(t, err)
	assert.Regexp(t, `^https://drop\.example/\?code=[1-9][0-9]{5}&mode=receiver\n$`, out)
}

func TestLinkRejectsBadCode(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "127.0.0.1:1")

	_, err := execute(testContext(t), "link", "12ab", "-c", cfg)
	assert.Error(t, err)
}

func TestReceiveRejectsBadCode(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "127.0.0.1:1")

	_, err := execute(testContext(t), "receive", "https://drop.example/?code=12", "-c", cfg)
	assert.Error(t, err)
}

func TestHistoryEmpty(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "127.0.0.1:1")

	out, err := execute(testContext(t), "history", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No transfers yet")
}

func TestHistoryRejectsUnknownDirection(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "127.0.0.1:1")

	_, err := execute(testContext(t), "history", "--direction", "sideways", "-c", cfg)
	assert.Error(t, err)
}

func TestSendReceive(t *testing.T) {
	srv := setupRelay(t)
	ctx := testContext(t)
	base := t.TempDir()

	senderCfg := writeConfig(t, filepath.Join(base, "sender"), srv.Addr())
	receiverCfg := writeConfig(t, filepath.Join(base, "receiver"), srv.Addr())

	content := bytes.Repeat([]byte("peer drop "), 20000)
	src := filepath.Join(base, "notes.txt")
	require.NoError(t, os.WriteFile(src, content, 0o600))

	sendOut := make(chan string, 1)
	sendErr := make(chan error, 1)
	go func() {
		out, err := execute(ctx, "send", src, "--code", "482913", "--name", "alice", "-c", senderCfg)
		sendOut <- out
		sendErr <- err
	}()

	out, err := execute(ctx, "receive", "https://drop.example/?code=482913&mode=receiver", "-c", receiverCfg)
	require.NoError(t, err)
	require.NoError(t, <-sendErr)

	saved := filepath.Join(base, "receiver", "downloads", "notes.txt")
	assert.Contains(t, out, "Receiving notes.txt from alice")
	assert.Contains(t, out, "Saved "+saved)

	got, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	sent := <-sendOut
	assert.Contains(t, sent, "Room code: 482913")
	assert.Contains(t, sent, "Receiver link: https://drop.example/?code=482913&mode=receiver")

	out, err = execute(ctx, "history", "-c", receiverCfg)
	require.NoError(t, err)
	assert.Contains(t, out, "notes.txt")
	assert.Contains(t, out, "received")
	assert.Contains(t, out, saved)

	out, err = execute(ctx, "history", "--direction", "sent", "-c", senderCfg)
	require.NoError(t, err)
	assert.Contains(t, out, "notes.txt")
	assert.Contains(t, out, "alice")
	assert.NotContains(t, out, "tester")

	out, err = execute(ctx, "history", "--direction", "received", "-c", senderCfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No transfers yet")

	out, err = execute(ctx, "history", "clear", "-c", senderCfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 transfers")
}

func TestRelayStopsOnCancel(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "127.0.0.1:1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := execute(ctx, "relay", "--addr", "127.0.0.1:0", "--webrtc=false", "-c", cfg)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"photo.png":           "photo.png",
		"../../etc/passwd":    "passwd",
		`C:\Users\me\doc.pdf`: "doc.pdf",
		"":                    fallbackName,
		"..":                  fallbackName,
		"/":                   fallbackName,
		"dir/with/trailing/":  "trailing",
		"spaces in name.txt":  "spaces in name.txt",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeName(in), "safeName(%q)", in)
	}
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 19, 15, 4, 5, 0, time.UTC)

	first := uniquePath(dir, "report.pdf", now)
	assert.Equal(t, filepath.Join(dir, "report.pdf"), first)
	require.NoError(t, os.WriteFile(first, nil, 0o600))

	second := uniquePath(dir, "report.pdf", now)
	assert.Equal(t, filepath.Join(dir, "report-20261019-150405.pdf"), second)
	require.NoError(t, os.WriteFile(second, nil, 0o600))

	third := uniquePath(dir, "report.pdf", now)
	assert.True(t, strings.HasSuffix(third, "report-20261019-150405-1.pdf"), third)
}
