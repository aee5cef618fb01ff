// Package queueapitest runs an in-memory queue backend over httptest for
// front-end tests.
package queueapitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"bontle/internal/models"
)

const (
	Email    = "manager@demo.local"
	Password = "Password123!"
	Token    = "test-token"
)

var transitions = map[models.Status][]models.Status{
	models.StatusScheduled: {models.StatusArrived, models.StatusNoShow, models.StatusCancelled},
	models.StatusArrived:   {models.StatusInService, models.StatusCancelled},
	models.StatusInService: {models.StatusCompleted},
}

// Server is a fake backend. Its fields may be changed between requests
// through the setters.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	user      models.User
	stores    []models.Store
	queues    map[int64][]models.Booking
	incidents []models.Incident
	requests  map[string]int
}

// New starts a backend seeded with two stores and a small queue for store 1.
func New(t testing.TB) *Server {
	t.Helper()
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	s := &Server{
		user:   models.User{ID: 1, Email: Email, Role: "MANAGER"},
		stores: []models.Store{{ID: 1, Name: "Rosebank", City: "Johannesburg"}, {ID: 2, Name: "Menlyn", City: "Pretoria"}},
		queues: map[int64][]models.Booking{
			1: {
				{ID: "bk-1", BookingCode: "BNT-0001", ScheduledStartAt: day.Add(8 * time.Hour), Status: models.StatusScheduled, StoreID: 1, ServiceID: 1, SourceChannel: "TELEGRAM"},
				{ID: "bk-2", BookingCode: "BNT-0002", ScheduledStartAt: day.Add(9*time.Hour + 30*time.Minute), Status: models.StatusArrived, StoreID: 1, ServiceID: 2, SourceChannel: "WALK_IN"},
			},
			2: {},
		},
		requests: map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.login)
	mux.HandleFunc("GET /auth/me", s.authed(s.me))
	mux.HandleFunc("GET /stores", s.listStores)
	mux.HandleFunc("GET /queue/today", s.authed(s.queueToday))
	mux.HandleFunc("PATCH /bookings/{id}/status", s.authed(s.updateStatus))
	mux.HandleFunc("GET /analytics/daily", s.authed(s.daily))
	mux.HandleFunc("POST /incidents", s.authed(s.incident))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Requests returns how many times "METHOD /path" was called.
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// Total returns the number of requests served.
func (s *Server) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.requests {
		n += c
	}
	return n
}

// SetHomeStore assigns the user's home store.
func (s *Server) SetHomeStore(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user.StoreID = &id
}

// SetQueue replaces a store's queue.
func (s *Server) SetQueue(storeID int64, q []models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[storeID] = q
}

// Incidents returns the incidents filed so far.
func (s *Server) Incidents() []models.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Incident(nil), s.incidents...)
}

// Booking looks a booking up across all stores.
func (s *Server) Booking(id string) (models.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queues {
		if b, ok := models.FindBooking(q, id); ok {
			return b, true
		}
	}
	return models.Booking{}, false
}

func (s *Server) count(r *http.Request) {
	s.mu.Lock()
	s.requests[r.Method+" "+r.URL.Path]++
	s.mu.Unlock()
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+Token {
			s.count(r)
			fail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next(w, r)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		fail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	if body.Email != Email || body.Password != Password {
		fail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	write(w, models.TokenPair{AccessToken: Token, RefreshToken: "refresh", TokenType: "bearer"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	s.mu.Lock()
	u := s.user
	s.mu.Unlock()
	write(w, u)
}

func (s *Server) listStores(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	s.mu.Lock()
	stores := append([]models.Store(nil), s.stores...)
	s.mu.Unlock()
	write(w, stores)
}

func (s *Server) queueToday(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	storeID, err := strconv.ParseInt(r.URL.Query().Get("store_id"), 10, 64)
	if err != nil {
		fail(w, http.StatusUnprocessableEntity, "store_id required")
		return
	}
	s.mu.Lock()
	q := append([]models.Booking{}, s.queues[storeID]...)
	s.mu.Unlock()
	write(w, q)
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	var body struct {
		Status models.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		fail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for storeID, q := range s.queues {
		for i := range q {
			if q[i].ID != id {
				continue
			}
			if !allowed(q[i].Status, body.Status) {
				fail(w, http.StatusBadRequest, fmt.Sprintf("Invalid transition %s -> %s", q[i].Status, body.Status))
				return
			}
			s.queues[storeID][i].Status = body.Status
			write(w, models.StatusResult{OK: true, Status: body.Status})
			return
		}
	}
	fail(w, http.StatusNotFound, "Booking not found")
}

func (s *Server) daily(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	storeID, _ := strconv.ParseInt(r.URL.Query().Get("store_id"), 10, 64)
	k := models.KPISnapshot{StoreID: storeID, Date: r.URL.Query().Get("date_str")}
	s.mu.Lock()
	for _, b := range s.queues[storeID] {
		k.Bookings++
		switch b.Status {
		case models.StatusCompleted:
			k.Completed++
		case models.StatusNoShow:
			k.NoShow++
		case models.StatusCancelled:
			k.Cancelled++
		}
	}
	s.mu.Unlock()
	write(w, k)
}

func (s *Server) incident(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	var in models.Incident
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		fail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	s.incidents = append(s.incidents, in)
	id := fmt.Sprintf("inc-%d", len(s.incidents))
	s.mu.Unlock()
	write(w, map[string]any{"ok": true, "id": id})
}

func allowed(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func write(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": strings.TrimSpace(detail)})
}
