package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	apperrors "scrollstitch/internal/errors"
	"scrollstitch/internal/pipeline"
	"scrollstitch/internal/stitch"
	"scrollstitch/internal/storage"
	"scrollstitch/internal/tasks"
)

// Queue is the part of the pipeline the server submits to and listens on.
type Queue interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// Store lists jobs and plans.
type Store interface {
	RecentJobs(limit int) ([]storage.JobRecord, error)
	LoadPlan(id string) (storage.PlanRecord, error)
	ListPlans(limit int) ([]storage.PlanRecord, error)
}

// Adjuster applies manual plan corrections.
type Adjuster interface {
	AdjustPlan(ctx context.Context, req tasks.AdjustRequest) (stitch.PlanState, error)
}

// Server exposes jobs and plans over HTTP.
type Server struct {
	addr     string
	store    Store
	pipeline Queue
	adjuster Adjuster
	hub      *Hub
	log      *slog.Logger
	server   *http.Server
}

// NewServer creates a server; call Start to listen.
func NewServer(addr string, store Store, pipe Queue, adjuster Adjuster, log *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		adjuster: adjuster,
		hub:      NewHub(log),
		log:      log,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	go s.forwardEvents(ctx)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleSubmit).Methods("POST")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.Handle("/ws", s.hub).Methods("GET")
	r.HandleFunc("/plans", s.handlePlans).Methods("GET")
	r.HandleFunc("/plans/{id}", s.handlePlan).Methods("GET")
	r.HandleFunc("/plans/{id}/adjust", s.handleAdjust).Methods("POST")
	r.HandleFunc("/plans/{id}/render", s.handleRender).Methods("POST")
}

// forwardEvents relays pipeline results to websocket clients.
func (s *Server) forwardEvents(ctx context.Context) {
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, err := json.Marshal(pipeline.NewEvent(res))
			if err == nil {
				s.hub.Broadcast(payload)
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(limitParam(r, 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError("invalid request body", err))
		return
	}
	job, err := req.Job()
	if err != nil {
		writeError(w, err)
		return
	}
	s.submit(w, job)
}

func (s *Server) submit(w http.ResponseWriter, job pipeline.Job) {
	if err := s.pipeline.Submit(job); err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID, "status": "queued"})
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(pipeline.NewEvent(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.store.ListPlans(limitParam(r, 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.LoadPlan(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// adjustRequest is the POST /plans/{id}/adjust body. Offsets keys are interior image indices.
type adjustRequest struct {
	Top     int         `json:"top"`
	Bottom  int         `json:"bottom"`
	Offsets map[int]int `json:"offsets"`
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError("invalid request body", err))
		return
	}
	state, err := s.adjuster.AdjustPlan(r.Context(), tasks.AdjustRequest{
		PlanID:  mux.Vars(r)["id"],
		Top:     req.Top,
		Bottom:  req.Bottom,
		Offsets: req.Offsets,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.LoadPlan(id); err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Full   bool   `json:"full"`
		Output string `json:"output"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.NewValidationError("invalid request body", err))
			return
		}
	}
	s.submit(w, pipeline.Job{
		ID:        pipeline.NewID("render"),
		Type:      pipeline.JobRender,
		InputPath: id,
		Output:    req.Output,
		Options:   map[string]any{"full": req.Full},
	})
}

func limitParam(r *http.Request, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.StatusCode(err), map[string]string{
		"error": err.Error(),
		"kind":  string(apperrors.KindOf(err)),
	})
}
