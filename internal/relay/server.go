package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/room"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	config Config
	logger *logrus.Logger
	rooms  *room.Registry
	http   *http.Server
	ln     net.Listener
	quic   *transport.QUICTransport

	// ctx scopes every connection handler; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewLogger()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Addr, err)
	}

	var qt *transport.QUICTransport
	if cfg.QUICAddr != "" {
		tlsConf, err := transport.TLSConfig(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			_ = ln.Close()
			return nil, err
		}
		qt, err = transport.NewQUICTransport(cfg.QUICAddr, tlsConf)
		if err != nil {
			_ = ln.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config: cfg,
		logger: cfg.Logger,
		rooms: room.NewRegistry(room.Config{
			IdleTimeout: cfg.IdleTimeout,
			SingleUse:   cfg.SingleUse,
			Logger:      cfg.Logger,
		}),
		ln:     ln,
		quic:   qt,
		ctx:    ctx,
		cancel: cancel,
	}
	s.http = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.config.WebRTC {
		r.Handle(offerPath, s.answerer()).Methods(http.MethodPost)
	}
	r.Use(s.logRequests)
	return r
}

// Addr is the HTTP listener address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// QUICAddr is empty when QUIC is disabled.
func (s *Server) QUICAddr() string {
	if s.quic == nil {
		return ""
	}
	return s.quic.LocalAddr().String()
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"addr":   s.Addr(),
		"quic":   s.QUICAddr(),
		"webrtc": s.config.WebRTC,
	}).Info("Relay server started")

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if s.quic != nil {
		go s.acceptQUIC(ctx)
	}

	select {
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	case <-s.ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("serving http: %w", err)
	}
}

func (s *Server) acceptQUIC(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := s.quic.Accept(ctx)
			if err != nil {
				if ctx.Err() != nil || s.ctx.Err() != nil {
					return
				}
				s.logger.Errorf("Failed to accept QUIC connection: %v", err)
				continue
			}

			go s.handleConn(s.ctx, conn)
		}
	}
}

func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down relay server")
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.http.Shutdown(ctx)
	if s.quic != nil {
		if qErr := s.quic.Close(); err == nil {
			err = qErr
		}
	}
	s.rooms.Close()
	return err
}
