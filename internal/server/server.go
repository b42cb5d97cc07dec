package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/NowakAdmin/BalanzaAgent/internal/config"
	"github.com/NowakAdmin/BalanzaAgent/internal/devices"
)

const apiPrefix = "/api/v1/scale"

// Scale is the part of devices.Reader served over HTTP.
type Scale interface {
	ReadWeight(ctx context.Context) devices.Reading
	Status() devices.Status
	ChangeConfig(cfg devices.ScaleConfig) bool
	TestConnection(ctx context.Context) devices.ProbeResult
	Log() []devices.LogEntry
	ClearLog()
}

type Server struct {
	scale  Scale
	hub    *Hub
	logger logrus.FieldLogger
	router *mux.Router

	// ListPorts backs GET /api/v1/scale/ports.
	ListPorts func() []devices.PortInfo
}

func New(scale Scale, logger logrus.FieldLogger) *Server {
	s := &Server{
		scale:     scale,
		hub:       NewHub(logger),
		logger:    logger.WithField("module", "http"),
		ListPorts: devices.ListPorts,
	}

	r := mux.NewRouter()
	r.HandleFunc(apiPrefix+"/state", s.handleState).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc(apiPrefix+"/read", s.handleRead).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc(apiPrefix+"/ports", s.handlePorts).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc(apiPrefix+"/log", s.handleLog).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc(apiPrefix+"/log", s.handleClearLog).Methods(http.MethodDelete)
	r.HandleFunc(apiPrefix+"/config", s.handleConfig).Methods(http.MethodPut, http.MethodOptions)
	r.HandleFunc(apiPrefix+"/test", s.handleTest).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/ws", s.hub.HandleWS)

	r.Use(mux.CORSMethodMiddleware(r))
	r.Use(corsOrigin)
	s.router = r

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Forward broadcasts every reading from readings until it is closed or ctx
// ends.
func (s *Server) Forward(ctx context.Context, readings <-chan devices.Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case reading, ok := <-readings:
			if !ok {
				return
			}
			msg, err := json.Marshal(reading)
			if err != nil {
				s.logger.WithError(err).Warn("no se pudo serializar la lectura")
				continue
			}
			s.hub.Broadcast(msg)
		}
	}
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.WithField("addr", ln.Addr().String()).Info("servidor HTTP iniciado")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scale.Status())
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scale.ReadWeight(r.Context()))
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports := s.ListPorts()
	if ports == nil {
		ports = []devices.PortInfo{}
	}
	writeJSON(w, http.StatusOK, ports)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scale.Log())
}

func (s *Server) handleClearLog(w http.ResponseWriter, r *http.Request) {
	s.scale.ClearLog()
	w.WriteHeader(http.StatusNoContent)
}

type configResponse struct {
	Connected bool           `json:"connected"`
	Status    devices.Status `json:"status"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var section config.ScaleSection
	if err := json.NewDecoder(r.Body).Decode(&section); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg := section.ScaleConfig()
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	connected := s.scale.ChangeConfig(cfg)
	s.logger.WithFields(logrus.Fields{
		"port":      cfg.Port,
		"baud_rate": cfg.BaudRate,
		"protocol":  cfg.Protocol.String(),
		"connected": connected,
	}).Info("configuración de balanza cambiada")

	writeJSON(w, http.StatusOK, configResponse{Connected: connected, Status: s.scale.Status()})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scale.TestConnection(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
