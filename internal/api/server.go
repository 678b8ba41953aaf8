// Package api exposes the call-control endpoints: originate, hangup,
// read-only projections of the live registry and process controls.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/asterisk-callflow/internal/call"
	"github.com/sweeney/asterisk-callflow/internal/config"
	"github.com/sweeney/asterisk-callflow/internal/correlator"
	"github.com/sweeney/asterisk-callflow/internal/dispatcher"
)

// Server wires the control endpoints to the dispatcher.
type Server struct {
	disp *dispatcher.Dispatcher
	cfg  *config.Config
}

func NewServer(disp *dispatcher.Dispatcher, cfg *config.Config) *Server {
	return &Server{disp: disp, cfg: cfg}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.getRoot)
	r.Get("/diag", s.getDiag)
	r.Get("/stats", s.getStats)
	r.Post("/restart", s.restart)

	r.Get("/rooms", s.getRooms)
	r.Get("/bridges", s.getBridges)
	r.Get("/chans", s.getChans)

	r.Post("/originate", s.originate)
	r.Delete("/hangup", s.hangup)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

type originateRequest struct {
	Token        string `json:"token"`
	IntPhone     string `json:"intphone"`
	ExtPhone     string `json:"extphone"`
	IDClient     string `json:"idclient"`
	Dir          string `json:"dir"`
	CallerIDRule string `json:"calleridrule"`
	LeadID       string `json:"lead_id"`
	Plan         string `json:"plan"`
}

func (s *Server) originate(w http.ResponseWriter, r *http.Request) {
	var req originateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ExtPhone == "" {
		writeError(w, http.StatusBadRequest, "extphone is required")
		return
	}

	planName := req.Plan
	if planName == "" {
		planName = s.cfg.Plans.Default
	}

	lead := call.NewLead(req.LeadID, planName)
	lead.AddDialOption("extphone", call.DialOption{
		Gate:        s.cfg.Dial.Gate,
		DialTimeout: s.cfg.Dial.TimeoutSeconds,
		Phone:       req.ExtPhone,
		CallerID:    req.IntPhone,
	})
	if req.IntPhone != "" {
		lead.AddDialOption("intphone", call.DialOption{
			Gate:        s.cfg.Dial.Gate,
			DialTimeout: s.cfg.Dial.TimeoutSeconds,
			Phone:       req.IntPhone,
			CallerID:    req.IntPhone,
		})
	}

	room, err := s.disp.Admit(lead)
	switch {
	case errors.Is(err, dispatcher.ErrAdmissionClosed):
		writeError(w, http.StatusServiceUnavailable, "admission closed")
		return
	case errors.Is(err, dispatcher.ErrDuplicateCall):
		writeError(w, http.StatusConflict, "such lead_id has already been launched")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":    req.Token,
		"intphone": req.IntPhone,
		"extphone": req.ExtPhone,
		"lead_id":  lead.ID,
		"call_id":  room.CallID(),
	})
}

func (s *Server) hangup(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("call_id")
	room := s.disp.Room(callID)
	if room == nil {
		writeError(w, http.StatusNotFound, "Not found call_id")
		return
	}

	now := time.Now()
	s.disp.RouteEvent(correlator.TriggerEvent{
		EventType:       correlator.EventTypeAPI,
		Tag:             room.Tag(),
		CallID:          callID,
		Status:          call.StatusStop,
		Value:           "api_hangup",
		ExternalTime:    now,
		CorrelationTime: now,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"token":   r.URL.Query().Get("token"),
		"call_id": callID,
	})
}

func (s *Server) getRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"app":  s.cfg.ARI.App,
		"bind": s.cfg.API.Bind,
	})
}

func (s *Server) getDiag(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"app":           s.cfg.ARI.App,
		"alive":         !s.disp.AdmissionClosed(),
		"wait_shutdown": s.disp.AdmissionClosed(),
		"rooms":         s.disp.Count(),
	})
}

// getStats reports correlation-delay statistics across live rooms:
// how far behind the Asterisk timestamps the orchestrator observed
// events.
func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	var maxDelay, sum float64
	var n int
	for _, room := range s.disp.Rooms() {
		for _, statuses := range room.Ledger().Snapshot() {
			for _, rec := range statuses {
				for _, d := range recordDelays(rec) {
					if d > maxDelay {
						maxDelay = d
					}
					sum += d
					n++
				}
			}
		}
	}

	avg := 0.0
	if n > 0 {
		avg = sum / float64(n)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"max":   maxDelay,
		"avg":   avg,
		"count": n,
		"alive": !s.disp.AdmissionClosed(),
	})
}

func (s *Server) restart(w http.ResponseWriter, _ *http.Request) {
	s.disp.CloseAdmission()
	writeJSON(w, http.StatusOK, map[string]any{
		"app":           s.cfg.ARI.App,
		"wait_shutdown": true,
		"msg":           "app restart started",
	})
}

func (s *Server) getRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := make(map[string]any)
	for _, room := range s.disp.Rooms() {
		rooms[room.RoomID()] = room.Ledger().Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *Server) getBridges(w http.ResponseWriter, _ *http.Request) {
	bridges := []string{}
	for _, room := range s.disp.Rooms() {
		bridges = append(bridges, room.BridgeIDs()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"bridges": bridges})
}

func (s *Server) getChans(w http.ResponseWriter, _ *http.Request) {
	chans := []string{}
	for _, room := range s.disp.Rooms() {
		chans = append(chans, room.ChannelIDs()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"chans": chans})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("api: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"res": "ERROR", "msg": msg})
}
