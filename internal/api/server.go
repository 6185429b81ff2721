// Package api exposes the gallery, episode, and history services via
// REST/JSON for the browser frontend, plus a WebSocket event stream.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/biowallet/backend/internal/core"
	"github.com/biowallet/backend/internal/dispatch"
	"github.com/biowallet/backend/internal/edge"
	"github.com/biowallet/backend/internal/events"
	"github.com/biowallet/backend/internal/gallery"
	"github.com/biowallet/backend/internal/metrics"
	"github.com/biowallet/backend/internal/speech"
)

// maxFrameBytes caps pushed camera frames at 8MB.
const maxFrameBytes = 8 << 20

// HistorySource serves transaction history for a wallet address.
type HistorySource interface {
	ForWallet(ctx context.Context, walletAddress string, limit int) (*core.TransactionHistory, error)
}

// Server routes frontend requests to the gallery, dispatcher, and
// history services.
type Server struct {
	gallery    *gallery.Gallery
	store      *gallery.RedisStore
	blobs      gallery.BlobStore
	refBlobID  string
	dispatcher *dispatch.Dispatcher
	listener   *speech.Listener
	history    HistorySource
	bus        *events.Bus
	metrics    *metrics.Metrics
	frames     *edge.FrameCache
	transcript *edge.PushTranscriber
}

// Options configures a Server. Gallery, Dispatcher, and Bus are
// required; the rest disable their endpoints when nil.
type Options struct {
	Gallery         *gallery.Gallery
	Store           *gallery.RedisStore
	Blobs           gallery.BlobStore
	ReferenceBlobID string
	Dispatcher      *dispatch.Dispatcher
	Listener        *speech.Listener
	History         HistorySource
	Bus             *events.Bus
	Metrics         *metrics.Metrics
	Frames          *edge.FrameCache
	Transcripts     *edge.PushTranscriber
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	return &Server{
		gallery:    opts.Gallery,
		store:      opts.Store,
		blobs:      opts.Blobs,
		refBlobID:  opts.ReferenceBlobID,
		dispatcher: opts.Dispatcher,
		listener:   opts.Listener,
		history:    opts.History,
		bus:        opts.Bus,
		metrics:    opts.Metrics,
		frames:     opts.Frames,
		transcript: opts.Transcripts,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS Middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Preflight requests must match a route for the CORS middleware to run.
	r.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.HandleFunc("/api/faces", s.handleRegisterFace).Methods("POST")
	r.HandleFunc("/api/faces", s.handleListFaces).Methods("GET")
	r.HandleFunc("/api/faces/{name}", s.handleDeleteFace).Methods("DELETE")
	r.HandleFunc("/api/faces/sync", s.handleSyncFaces).Methods("POST")

	r.HandleFunc("/api/frames", s.handleFrame).Methods("POST")
	r.HandleFunc("/api/transcripts", s.handleTranscript).Methods("POST")

	r.HandleFunc("/api/trigger", s.handleTrigger).Methods("POST")
	r.HandleFunc("/api/episode", s.handleEpisode).Methods("GET")
	r.HandleFunc("/api/episode/confirm", s.handleConfirm).Methods("POST")
	r.HandleFunc("/api/episode/close", s.handleClose).Methods("POST")

	r.HandleFunc("/api/transactions/{address}", s.handleHistory).Methods("GET")
	r.HandleFunc("/api/speech/status", s.handleSpeechStatus).Methods("GET")

	r.HandleFunc("/ws", s.handleStream).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	return r
}

// Start blocks serving HTTP on addr until the server fails or ctx ends.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()
	slog.Info("[API] Listening", "addr", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// --- Gallery ---

type registerFaceRequest struct {
	Name       string    `json:"name"`
	LinkedIn   string    `json:"linkedin,omitempty"`
	Telegram   string    `json:"telegram,omitempty"`
	Twitter    string    `json:"twitter,omitempty"`
	Descriptor []float32 `json:"descriptor"`
}

func (s *Server) handleRegisterFace(w http.ResponseWriter, r *http.Request) {
	var req registerFaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	face := core.SavedFace{
		Label: core.Profile{
			Name:     req.Name,
			LinkedIn: req.LinkedIn,
			Telegram: req.Telegram,
			Twitter:  req.Twitter,
		},
		Descriptor: req.Descriptor,
	}
	if err := s.gallery.Add(face); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.persistGallery(r.Context())
	if s.metrics != nil {
		s.metrics.GallerySize.Set(float64(s.gallery.Len()))
	}
	if s.bus != nil {
		s.bus.Emit(events.TypeFaceRegistered, "api", req.Name, map[string]interface{}{
			"name":  req.Name,
			"count": s.gallery.Len(),
		})
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status": "registered",
		"name":   req.Name,
		"count":  s.gallery.Len(),
	})
}

func (s *Server) handleListFaces(w http.ResponseWriter, r *http.Request) {
	faces := s.gallery.Snapshot()
	profiles := make([]core.Profile, 0, len(faces))
	for _, f := range faces {
		profiles = append(profiles, f.Label)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(profiles),
		"profiles": profiles,
	})
}

func (s *Server) handleDeleteFace(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	kept := make([]core.SavedFace, 0)
	removed := 0
	for _, f := range s.gallery.Snapshot() {
		if f.Label.Name == name {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	if removed == 0 {
		http.Error(w, "Face not found", http.StatusNotFound)
		return
	}
	s.gallery.Replace(kept)
	s.persistGallery(r.Context())
	if s.metrics != nil {
		s.metrics.GallerySize.Set(float64(s.gallery.Len()))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "deleted",
		"removed": removed,
	})
}

// handleSyncFaces merges the reference gallery blob into the local
// gallery. Local entries win on name collisions; the merge is
// idempotent, so repeated syncs are safe.
func (s *Server) handleSyncFaces(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil || s.refBlobID == "" {
		http.Error(w, "Reference gallery not configured", http.StatusServiceUnavailable)
		return
	}

	raw, err := s.blobs.Read(r.Context(), s.refBlobID)
	if err != nil {
		http.Error(w, "Failed to read reference gallery: "+err.Error(), http.StatusBadGateway)
		return
	}
	var reference []core.SavedFace
	if err := json.Unmarshal(raw, &reference); err != nil {
		http.Error(w, "Malformed reference gallery", http.StatusBadGateway)
		return
	}

	merged := gallery.Merge(s.gallery.Snapshot(), reference)
	s.gallery.Replace(merged)
	s.persistGallery(r.Context())
	if s.metrics != nil {
		s.metrics.GallerySize.Set(float64(s.gallery.Len()))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "synced",
		"count":  s.gallery.Len(),
	})
}

// persistGallery mirrors the in-memory gallery to Redis and, when a
// blob store is configured, backs it up off-process. Backup failures
// are logged, never surfaced.
func (s *Server) persistGallery(ctx context.Context) {
	faces := s.gallery.Snapshot()
	if s.store != nil {
		if err := s.store.SaveFaces(ctx, faces); err != nil {
			slog.Warn("[API] Gallery persist failed", "error", err)
		}
	}
	if s.blobs != nil {
		go func() {
			bctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			raw, err := json.Marshal(faces)
			if err != nil {
				return
			}
			if _, err := s.blobs.Store(bctx, raw); err != nil {
				slog.Warn("[API] Gallery blob backup failed", "error", err)
			}
		}()
	}
}

// --- Ingestion ---

// handleFrame caches the latest camera frame pushed by the frontend.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if s.frames == nil {
		http.Error(w, "Frame ingestion not configured", http.StatusServiceUnavailable)
		return
	}
	frame, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes+1))
	if err != nil {
		http.Error(w, "Failed to read frame", http.StatusBadRequest)
		return
	}
	if len(frame) == 0 {
		http.Error(w, "Empty frame", http.StatusBadRequest)
		return
	}
	if len(frame) > maxFrameBytes {
		http.Error(w, "Frame too large", http.StatusRequestEntityTooLarge)
		return
	}
	s.frames.Put(frame)
	w.WriteHeader(http.StatusNoContent)
}

// handleTranscript feeds one live transcript update into the trigger
// listener's debounce window.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.transcript == nil {
		http.Error(w, "Transcript ingestion not configured", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	s.transcript.Push(req.Transcript)
	w.WriteHeader(http.StatusNoContent)
}

// --- Episodes ---

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if req.Transcript == "" {
		http.Error(w, "Transcript is required", http.StatusBadRequest)
		return
	}

	ep := s.dispatcher.HandleTrigger(context.Background(), req.Transcript)
	if ep == nil {
		http.Error(w, "An interaction is already in progress", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"episodeId": ep.ID,
		"state":     ep.State().String(),
	})
}

type episodeView struct {
	EpisodeID  string                   `json:"episodeId"`
	State      string                   `json:"state"`
	Transcript string                   `json:"transcript"`
	Steps      []core.AgentStep         `json:"steps"`
	Profile    *core.Profile            `json:"profile,omitempty"`
	Transfer   *dispatch.TransferIntent `json:"transfer,omitempty"`
	Failure    string                   `json:"failure,omitempty"`
}

func (s *Server) handleEpisode(w http.ResponseWriter, r *http.Request) {
	ep := s.dispatcher.Current()
	if ep == nil {
		http.Error(w, "No active episode", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, episodeView{
		EpisodeID:  ep.ID,
		State:      ep.State().String(),
		Transcript: ep.Transcript,
		Steps:      ep.Steps(),
		Profile:    ep.Profile(),
		Transfer:   ep.Transfer(),
		Failure:    ep.FailureReason(),
	})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approved bool `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	ep := s.dispatcher.Current()
	if ep == nil {
		http.Error(w, "No active episode", http.StatusNotFound)
		return
	}
	if ep.State() != dispatch.StateAwaitingUserConfirmation {
		http.Error(w, "Episode is not awaiting confirmation", http.StatusConflict)
		return
	}
	ep.Confirm(req.Approved)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "confirmed",
		"approved": req.Approved,
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	ep := s.dispatcher.Current()
	if ep == nil {
		http.Error(w, "No active episode", http.StatusNotFound)
		return
	}
	s.dispatcher.CloseEpisode(r.Context(), ep)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "closed"})
}

// --- History & status ---

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "History not configured", http.StatusServiceUnavailable)
		return
	}
	address := mux.Vars(r)["address"]
	h, err := s.history.ForWallet(r.Context(), address, 100)
	if err != nil {
		http.Error(w, "Failed to load history: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleSpeechStatus(w http.ResponseWriter, r *http.Request) {
	status := "unavailable"
	if s.listener != nil {
		status = s.listener.Status()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"gallerySize": s.gallery.Len(),
		"subscribers": s.bus.SubscriberCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("[API] Response encode failed", "error", err)
	}
}
