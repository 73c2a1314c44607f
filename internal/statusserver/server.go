// Package statusserver exposes a connected device's ConnectionStatsSnapshot,
// DeviceHealth, and current Operation as read-only JSON, adapted from
// server.Server/server.Mainframe's RouteTable-of-handlers shape onto
// go-chi/chi instead of the bare net/http mux the teacher used.
package statusserver

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi"

	"github.com/sgeraldes/hidock-next-sub001/jensen"
)

// Device is the subset of *jensen.Device the server reads. Declared as
// an interface so tests can substitute a stub without a real façade,
// matching generichttp.HTTPer's role in the teacher.
type Device interface {
	GetStats() jensen.ConnectionStatsSnapshot
	GetHealth() jensen.DeviceHealth
	IsConnected() bool
}

// Server answers GET /stats, GET /health, and GET /operation for one
// device, matching server.Server's RouteTable shape: each endpoint is one
// handler bound under a URL stem.
type Server struct {
	device Device

	mu  sync.Mutex
	op  jensen.Operation
	has bool
}

// New returns a Server reading from device.
func New(device Device) *Server {
	return &Server{device: device}
}

// SetOperation records the most recently reported operation, for the
// caller (for example from a Device method's progress callback) to push
// updates as Device methods run; cmd/hidockctl's serve command does not
// call it, so its /operation endpoint answers 204 No Content. The server never reaches into the façade's own
// mutex to discover this itself — the caller already holds the progress
// event.
func (s *Server) SetOperation(op jensen.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.op = op
	s.has = true
}

// Routes returns a chi.Router with GET /stats, /health, /operation
// bound, mirroring server.Server.BindRoutes but chi-routed per
// SPEC_FULL.md §6.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stats", s.handleStats)
	r.Get("/health", s.handleHealth)
	r.Get("/operation", s.handleOperation)
	return r
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.device.GetStats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.device.GetHealth())
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	op, has := s.op, s.has
	s.mu.Unlock()
	if !has {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, op)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fstr := fmt.Sprintf("error encoding response to json: %v", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}

// ListenAndServe starts the server at addr. It blocks, matching the
// teacher's log.Fatal(http.ListenAndServe(...)) call shape in
// cmd/multiserver/main.go, but returns the error instead of fataling so
// callers can decide how to react.
func (s *Server) ListenAndServe(addr string) error {
	log.Println("statusserver: now listening for requests at", addr)
	return http.ListenAndServe(addr, s.Routes())
}
