// Package authsvc is a small stand-in for the remote authorization service.
// It knows which card belongs to which driver, remembers which cards are
// inside the lot, and records every accepted check-in and check-out.
package authsvc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/alfredjeanlab/lotgate/internal/model"
	"github.com/alfredjeanlab/lotgate/internal/serial"
)

// MaxLogs bounds the in-memory check-in log.
const MaxLogs = 1000

// Response messages.
const (
	MessageSuccess = "success"
	MessageOK      = "ok"
)

// Account links a card to its driver and vehicle.
type Account struct {
	Card  model.UID `json:"card_id"`
	User  string    `json:"username"`
	Plate string    `json:"license_plate,omitempty"`
}

// Direction is the kind of a log entry.
type Direction string

const (
	CheckIn  Direction = "CHECKIN"
	CheckOut Direction = "CHECKOUT"
)

// LogEntry is one accepted pass through a gate.
type LogEntry struct {
	Card      model.UID `json:"card_id"`
	Plate     string    `json:"license_plate,omitempty"`
	Type      Direction `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Config wires a Service.
type Config struct {
	Accounts []Account
	Logger   *slog.Logger
}

// Service holds the card directory and check-in state.
type Service struct {
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	accounts map[model.UID]Account
	inside   map[model.UID]time.Time
	logs     []LogEntry
	states   string
}

// errors returned by Validate
var (
	ErrUnknownCard   = errors.New("card cannot be found")
	ErrNotLinked     = errors.New("card is not linked to a vehicle")
	ErrAlreadyInside = errors.New("card is already checked in")
	ErrNotInside     = errors.New("card is not checked in")
)

// New returns a service with the given accounts and no cards inside.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		logger:   logger,
		now:      time.Now,
		accounts: make(map[model.UID]Account, len(cfg.Accounts)),
		inside:   make(map[model.UID]time.Time),
	}
	for _, a := range cfg.Accounts {
		s.accounts[a.Card] = a
	}
	return s
}

// Validate decides whether card may pass gate g and, if so, records the
// pass. A card must be outside to enter and inside to exit.
func (s *Service) Validate(card model.UID, g model.GateID) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[card]
	if !ok {
		return Account{}, ErrUnknownCard
	}
	if acct.User == "" {
		return Account{}, ErrNotLinked
	}
	_, in := s.inside[card]
	now := s.now().UTC()
	entry := LogEntry{Card: card, Plate: acct.Plate, CreatedAt: now}
	switch g {
	case model.GateEntry:
		if in {
			return Account{}, ErrAlreadyInside
		}
		s.inside[card] = now
		entry.Type = CheckIn
	default:
		if !in {
			return Account{}, ErrNotInside
		}
		delete(s.inside, card)
		entry.Type = CheckOut
	}
	s.logs = append(s.logs, entry)
	if len(s.logs) > MaxLogs {
		s.logs = s.logs[len(s.logs)-MaxLogs:]
	}
	return acct, nil
}

// Inside reports whether card is checked in.
func (s *Service) Inside(card model.UID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inside[card]
	return ok
}

// Logs returns the log newest first, optionally filtered to cards.
func (s *Service) Logs(cards ...model.UID) []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, 0, len(s.logs))
	for i := len(s.logs) - 1; i >= 0; i-- {
		e := s.logs[i]
		if len(cards) > 0 && !containsUID(cards, e.Card) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// SetStates stores the latest occupancy CSV.
func (s *Service) SetStates(csv string) {
	s.mu.Lock()
	s.states = csv
	s.mu.Unlock()
}

// States returns the latest occupancy CSV.
func (s *Service) States() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states
}

// Handler returns the service's routes.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthcheck", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/cards/linked-vehicle", s.handleLinkedVehicle)
		r.Get("/parking-slots", s.handleGetSlots)
		r.Put("/parking-slots", s.handlePutSlots)
		r.Get("/card-logs", s.handleLogs)
	})
	return r
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": MessageOK})
}

// handleLinkedVehicle handles GET /api/v1/cards/linked-vehicle.
func (s *Service) handleLinkedVehicle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	card, err := model.ParseUID(strings.TrimSpace(q.Get("card_id")))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "card_id: "+err.Error())
		return
	}
	g, err := model.ParseSide(strings.TrimSpace(q.Get("gate_pos")))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "gate_pos: "+err.Error())
		return
	}

	acct, err := s.Validate(card, g)
	switch {
	case errors.Is(err, ErrUnknownCard):
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, ErrNotLinked):
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.logger.Info("pass refused", "card", card, "gate", g, "reason", err)
		writeMessage(w, http.StatusForbidden, err.Error())
		return
	}

	s.logger.Info("pass accepted", "card", card, "gate", g, "user", acct.User)
	writeJSON(w, http.StatusOK, map[string]string{"message": MessageSuccess, "info": acct.User})
}

func (s *Service) handleGetSlots(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": MessageSuccess, "states": s.States()})
}

// handlePutSlots handles PUT /api/v1/parking-slots.
func (s *Service) handlePutSlots(w http.ResponseWriter, r *http.Request) {
	var req struct {
		States string `json:"states"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := serial.ParseState(req.States); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	s.SetStates(req.States)
	writeJSON(w, http.StatusOK, map[string]string{"message": MessageSuccess})
}

// handleLogs handles GET /api/v1/card-logs?card_id=...
func (s *Service) handleLogs(w http.ResponseWriter, r *http.Request) {
	var cards []model.UID
	for _, raw := range r.URL.Query()["card_id"] {
		uid, err := model.ParseUID(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "card_id: "+err.Error())
			return
		}
		cards = append(cards, uid)
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": MessageSuccess, "info": s.Logs(cards...)})
}

func containsUID(list []model.UID, u model.UID) bool {
	for _, v := range list {
		if v == u {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
