package relay

import (
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/room"
	"github.com/sirupsen/logrus"
)

const DefaultWriteTimeout = 30 * time.Second

type Config struct {
	// Addr serves the websocket, WebRTC signalling and health endpoints.
	Addr string
	// QUICAddr enables the QUIC listener when set.
	QUICAddr string
	// TLSCert and TLSKey hold the QUIC certificate; a self-signed one is
	// generated when both are empty.
	TLSCert string
	TLSKey  string
	// WebRTC enables POST /rtc/offer.
	WebRTC      bool
	STUNServers []string
	// StrictCodes rejects room codes that are not six digits.
	StrictCodes  bool
	SingleUse    bool
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *logrus.Logger
}

func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		WebRTC:       true,
		StrictCodes:  true,
		IdleTimeout:  room.DefaultIdleTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}
