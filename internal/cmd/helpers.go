package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/history"
	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

const (
	fallbackName    = "download"
	timestampLayout = "20060102-150405"
)

type clientFlags struct {
	relayURL string
	name     string
}

func (a *app) connect(ctx context.Context, flags clientFlags) (*peer.Client, error) {
	cfg := a.config.Client.PeerConfig()
	if flags.relayURL != "" {
		cfg.RelayURL = flags.relayURL
	}
	if flags.name != "" {
		cfg.Name = flags.name
	}
	cfg.Logger = a.logger

	client, err := peer.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// newProgressBar shows a spinner when size is unknown.
func newProgressBar(w io.Writer, size int64, description string) *progressbar.ProgressBar {
	if size < 0 {
		size = -1
	}
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
}

// recordHistory is best effort; a broken history database never fails a
// transfer.
func (a *app) recordHistory(ctx context.Context, t *history.Transfer) {
	if a.config.Client.HistoryDB == "" {
		return
	}
	log := a.logger.WithField("db", a.config.Client.HistoryDB)

	err := a.withHistory(func(store *history.Store) error {
		return store.Record(ctx, t)
	})
	if err != nil {
		log.Warnf("Failed to record transfer: %v", err)
		return
	}
	log.WithFields(logrus.Fields{
		"id":        t.ID,
		"direction": t.Direction,
	}).Debug("Recorded transfer")
}

// safeName strips any directory a sender put into the announced filename.
func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return fallbackName
	}
	return name
}

// uniquePath returns dir/name, or dir/name-<timestamp><ext> when that is
// taken.
func uniquePath(dir, name string, now time.Time) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	stamp := now.Format(timestampLayout)
	path = filepath.Join(dir, fmt.Sprintf("%s-%s%s", stem, stamp, ext))
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%s-%d%s", stem, stamp, i, ext))
	}
}
