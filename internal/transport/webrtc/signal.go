package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

const (
	// OfferPath is where the relay answers data channel offers.
	OfferPath    = "/rtc/offer"
	maxOfferSize = 64 * 1024
	// Peer connections whose data channel never shows up are reaped.
	channelTimeout = 30 * time.Second
)

var ErrBadOffer = errors.New("invalid session description")

// Answerer accepts offers over HTTP and hands each opened data channel to
// onConn.
type Answerer struct {
	config webrtc.Configuration
	onConn func(*Conn)
	logger *logrus.Logger
}

func NewAnswerer(config webrtc.Configuration, logger *logrus.Logger, onConn func(*Conn)) *Answerer {
	return &Answerer{
		config: config,
		onConn: onConn,
		logger: logger,
	}
}

func (a *Answerer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(io.LimitReader(r.Body, maxOfferSize)).Decode(&offer); err != nil {
		http.Error(w, ErrBadOffer.Error(), http.StatusBadRequest)
		return
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		http.Error(w, ErrBadOffer.Error(), http.StatusBadRequest)
		return
	}

	answer, err := a.Answer(r.Context(), offer, r.RemoteAddr)
	if err != nil {
		if errors.Is(err, ErrBadOffer) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.logger.Errorf("Failed to answer offer from %s: %v", r.RemoteAddr, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(answer); err != nil {
		a.logger.Warnf("Failed to write answer to %s: %v", r.RemoteAddr, err)
	}
}

// Answer builds the answer for one offer, waiting for ICE gathering so the
// reply carries every candidate.
func (a *Answerer) Answer(ctx context.Context, offer webrtc.SessionDescription, remote string) (*webrtc.SessionDescription, error) {
	pc, err := webrtc.NewPeerConnection(a.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	var claimed atomic.Bool
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if !claimed.CompareAndSwap(false, true) {
			_ = dc.Close()
			return
		}
		c := newConn(pc, dc, remote)
		a.logger.WithFields(logrus.Fields{
			"conn":   c.ID(),
			"remote": remote,
		}).Debug("Data channel received")
		go a.onConn(c)
	})

	time.AfterFunc(channelTimeout, func() {
		if !claimed.Load() {
			_ = pc.Close()
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("%w: %v", ErrBadOffer, err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}

	return pc.LocalDescription(), nil
}

// Dial offers a data channel to the relay at signalURL and waits for it to
// open.
func Dial(ctx context.Context, signalURL string, config webrtc.Configuration) (*Conn, error) {
	u, err := url.Parse(signalURL)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", signalURL, err)
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	dc, err := pc.CreateDataChannel(dataChannelLabel, DefaultDataChannelConfig())
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	c := newConn(pc, dc, u.Host)

	if err := c.negotiate(ctx, signalURL); err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := c.waitOpen(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("waiting for data channel: %w", err)
	}
	return c, nil
}

func (c *Conn) negotiate(ctx context.Context, signalURL string) error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	body, err := json.Marshal(c.pc.LocalDescription())
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signalURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting offer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay rejected offer: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var answer webrtc.SessionDescription
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxOfferSize)).Decode(&answer); err != nil {
		return fmt.Errorf("decoding answer: %w", err)
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}
