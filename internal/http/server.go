// Package http serves the runtime channel to out-of-process relays over
// loopback HTTP, with pushes streamed over a websocket.
package http

import (
	"net/http"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/protocol"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/runtime"
)

type Server struct {
	handler runtime.Handler
	mux     *http.ServeMux

	allowedOrigins mapset.Set[string]
	upgrader       websocket.Upgrader
}

// NewServer exposes h on the runtime paths. Browser origins must appear in
// allowedOrigins; requests without an Origin header are accepted from loopback.
func NewServer(h runtime.Handler, allowedOrigins []string) http.Handler {
	origins := normalizeOrigins(allowedOrigins)
	s := &Server{
		handler:        h,
		mux:            http.NewServeMux(),
		allowedOrigins: mapset.NewSet(origins...),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.originAllowed,
	}

	s.mux.HandleFunc(runtime.HealthPath, s.withLocalGuards(s.handleHealth))
	s.mux.HandleFunc(runtime.MessagePath, s.withLocalGuards(s.withOriginCheck(s.handleMessage)))
	s.mux.HandleFunc(runtime.EventsPath, s.withLocalGuards(s.handleEvents))

	log.Info("runtime server routes ready", "origins", strings.Join(origins, ","))
	return newCorsHandler(s, origins)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, HTTPErrorMethodNotAllowedText, http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{JSONKeyStatus: "ok"})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, HTTPErrorMethodNotAllowedText, http.StatusMethodNotAllowed)
		return
	}

	var env protocol.Envelope
	if err := readJSONBody(r, &env); err != nil || env.Type == "" {
		writeError(w, http.StatusBadRequest, HTTPErrorInvalidJSONText)
		return
	}

	reply, ok := s.handler.Handle(r.Context(), env)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, HTTPErrorUnhandledText)
		return
	}
	writeRaw(w, http.StatusOK, reply)
}

// handleEvents streams the connect greeting followed by every authority push.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("runtime events upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	pushes := make(chan protocol.Envelope, eventBuffer)
	sub := s.handler.SubscribeNotifications(pushes)
	defer sub.Unsubscribe()

	greeting, err := s.handler.ConnectNotification(r.Context())
	if err != nil {
		log.Error("runtime connect greeting", "err", err)
		return
	}
	if err := writeEnvelope(conn, greeting); err != nil {
		return
	}

	closed := make(chan struct{})
	go drainReads(conn, closed)

	ping := time.NewTicker(eventPingPeriod)
	defer ping.Stop()

	log.Info("runtime event stream attached", "remote", r.RemoteAddr)
	for {
		select {
		case env := <-pushes:
			if err := writeEnvelope(conn, env); err != nil {
				log.Warn("runtime event write failed", "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteWait)); err != nil {
				return
			}
		case err := <-sub.Err():
			if err != nil {
				log.Warn("runtime subscription ended", "err", err)
			}
			return
		case <-closed:
			log.Info("runtime event stream detached", "remote", r.RemoteAddr)
			return
		}
	}
}

func writeEnvelope(conn *websocket.Conn, env protocol.Envelope) error {
	if err := conn.SetWriteDeadline(time.Now().Add(eventWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(env)
}

// drainReads consumes control frames so pings and close frames are processed.
func drainReads(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(eventReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
