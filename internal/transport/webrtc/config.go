// Package webrtc carries relay events over a pion data channel. The offer
// and answer are exchanged with a single HTTP POST against the relay.
package webrtc

import "github.com/pion/webrtc/v3"

const dataChannelLabel = "peer-drop"

var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// NewConfig builds a peer connection configuration. With no servers only
// host candidates are gathered.
func NewConfig(stunServers []string) webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, server := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{server}})
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}

func DefaultConfig() webrtc.Configuration {
	return NewConfig(DefaultSTUNServers)
}

// DefaultDataChannelConfig is ordered and fully reliable; chunks must arrive
// in sequence.
func DefaultDataChannelConfig() *webrtc.DataChannelInit {
	ordered := true
	protocol := dataChannelLabel
	return &webrtc.DataChannelInit{
		Ordered:  &ordered,
		Protocol: &protocol,
	}
}
