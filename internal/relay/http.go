package relay

import (
	"encoding/json"
	"net/http"

	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport/webrtc"
	"github.com/sirupsen/logrus"
)

const offerPath = webrtc.OfferPath

type healthResponse struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r)
	if err != nil {
		s.logger.Debugf("Websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	s.handleConn(s.ctx, conn)
}

func (s *Server) answerer() http.Handler {
	config := webrtc.DefaultConfig()
	if s.config.STUNServers != nil {
		config = webrtc.NewConfig(s.config.STUNServers)
	}

	return webrtc.NewAnswerer(config, s.logger, func(c *webrtc.Conn) {
		s.handleConn(s.ctx, c)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status: "ok",
		Rooms:  s.rooms.Len(),
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"remote": r.RemoteAddr,
		}).Debug("HTTP request")
		next.ServeHTTP(w, r)
	})
}
