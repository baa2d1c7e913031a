package peer

import "github.com/sirupsen/logrus"

type Config struct {
	// RelayURL selects the transport: ws:// or wss:// for websockets,
	// http:// or https:// as shorthand for the relay's /ws endpoint,
	// quic://host:port, or rtc+http(s):// for a WebRTC data channel.
	RelayURL string
	// Name is announced as the sharer of outgoing files.
	Name        string
	ChunkSize   int
	STUNServers []string
	Logger      *logrus.Logger
}
