package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/glass-allocation/internal/adas"
	"github.com/example/glass-allocation/internal/allocator"
	"github.com/example/glass-allocation/internal/config"
	"github.com/example/glass-allocation/internal/dispatch"
	"github.com/example/glass-allocation/internal/eligibility"
	"github.com/example/glass-allocation/internal/geo"
	"github.com/example/glass-allocation/internal/ingest"
	"github.com/example/glass-allocation/internal/lifecycle"
	"github.com/example/glass-allocation/internal/logging"
	"github.com/example/glass-allocation/internal/models"
	"github.com/example/glass-allocation/internal/storage"
)

type Server struct {
	Directory geo.ShopDirectory
	Alloc     *allocator.Service
	Machine   *lifecycle.Machine
	Store     storage.AllocationStore
	Kafka     *ingest.KafkaProducer
	WSReg     *dispatch.WSRegistry
	logger    *slog.Logger
	mux       *mux.Router
}

// NewServer wires the allocation core onto the router. The qualify
// function is the boundary to the external technician-qualification
// service; tests and local runs can pass a stub.
func NewServer(cfg config.ServerConfig, qualify eligibility.QualifyFunc) *Server {
	logger := logging.NewLogger(cfg.LogLevel)

	var directory geo.ShopDirectory
	if cfg.RedisAddr != "" {
		directory = geo.NewRedisDirectory(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		directory = geo.NewIndex()
	}

	var store storage.AllocationStore
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Error("postgres unavailable, falling back to memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	wsreg := dispatch.NewWSRegistry(logger)
	pusher := dispatch.NewPushDispatcher(cfg.PushEndpoint, wsreg)

	var events allocator.EventSink
	if kp != nil {
		events = kp
	}
	alloc := &allocator.Service{
		Directory: directory,
		Qualify:   qualify,
		Detector:  adas.NewHeuristicDetector(),
		Dispatch:  pusher,
		Store:     store,
		Events:    events,
		Logger:    logger.With("component", "allocator"),
		TopN:      cfg.AllocatorTopN,
		OfferTTL:  cfg.OfferTTL,
	}
	machine := &lifecycle.Machine{
		Store:  store,
		Logger: logger.With("component", "lifecycle"),
	}
	if kp != nil {
		machine.Events = kp
	}

	s := &Server{
		Directory: directory,
		Alloc:     alloc,
		Machine:   machine,
		Store:     store,
		Kafka:     kp,
		WSReg:     wsreg,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/shops", s.handleShopUpsert).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/allocate", s.handleAllocate).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{request_id}/offers", s.handleListOffers).Methods("GET")
	s.mux.HandleFunc("/api/v1/offers/{offer_id}/respond", s.handleRespondToOffer).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/transition", s.handleTransitionJob).Methods("POST")
	s.mux.HandleFunc("/api/v1/shops/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{shop_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleShopUpsert(w http.ResponseWriter, r *http.Request) {
	var shop models.Shop
	if err := json.NewDecoder(r.Body).Decode(&shop); err != nil {
		writeError(w, 400, "bad_request", err.Error())
		return
	}
	if shop.ID == "" {
		writeError(w, 400, "bad_request", "shop id is required")
		return
	}
	s.Directory.Upsert(shop)
	w.WriteHeader(204)
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req models.ServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "bad_request", err.Error())
		return
	}
	if !req.ServiceType.Valid() {
		writeError(w, 400, "bad_request", "service_type must be repair or replacement")
		return
	}
	if req.ID == "" {
		req.ID = newID()
	}
	now := time.Now()
	if req.JobStatus == "" {
		req.JobStatus = models.JobScheduled
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	if err := s.Store.SaveRequest(r.Context(), &req); err != nil {
		writeError(w, 500, "internal", err.Error())
		return
	}

	offers, err := s.Alloc.Allocate(r.Context(), req)
	switch {
	case errors.Is(err, eligibility.ErrNoEligibleShops):
		writeError(w, 409, "no_eligible_shops", err.Error())
		return
	case errors.Is(err, eligibility.ErrNoQualifiedShops):
		writeError(w, 409, "no_qualified_shops", err.Error())
		return
	case errors.Is(err, allocator.ErrAllocationInProgress):
		writeError(w, 409, "allocation_in_progress", err.Error())
		return
	case err != nil:
		writeError(w, 502, "allocation_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"request_id": req.ID, "offers": offers})
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]
	offers, err := s.Store.OffersByRequest(r.Context(), requestID)
	if err != nil {
		writeError(w, 500, "internal", err.Error())
		return
	}
	// readers always see the lazily-computed status
	now := time.Now()
	for i := range offers {
		offers[i].Status = offers[i].EffectiveStatus(now)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"request_id": requestID, "offers": offers})
}

func (s *Server) handleRespondToOffer(w http.ResponseWriter, r *http.Request) {
	offerID := mux.Vars(r)["offer_id"]
	var body struct {
		Decision models.OfferStatus `json:"decision"`
		Reason   string             `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, 400, "bad_request", err.Error())
		return
	}
	offer, err := s.Machine.RespondToOffer(r.Context(), offerID, body.Decision, body.Reason)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, 404, "not_found", "offer not found")
		return
	case errors.Is(err, lifecycle.ErrAlreadyResolved):
		writeError(w, 409, "already_resolved", err.Error())
		return
	case err != nil:
		writeError(w, 400, "bad_request", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(offer)
}

func (s *Server) handleTransitionJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	var body struct {
		Status models.JobStatus `json:"status"`
		Actor  string           `json:"actor"`
		Notes  string           `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, 400, "bad_request", err.Error())
		return
	}
	audit, err := s.Machine.TransitionJob(r.Context(), jobID, body.Status, body.Actor, body.Notes)
	var ite *lifecycle.InvalidTransitionError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, 404, "not_found", "job not found")
		return
	case errors.As(err, &ite):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(409)
		json.NewEncoder(w).Encode(map[string]any{
			"error":            "invalid_transition",
			"current_status":   ite.From,
			"requested_status": ite.To,
		})
		return
	case errors.Is(err, lifecycle.ErrNoAcceptedOffer):
		writeError(w, 409, "no_accepted_offer", err.Error())
		return
	case errors.Is(err, storage.ErrStatusConflict):
		writeError(w, 409, "status_conflict", err.Error())
		return
	case err != nil:
		writeError(w, 400, "bad_request", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "audit": audit})
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err1 != nil || err2 != nil {
		writeError(w, 400, "bad_request", "lat and lon are required")
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"shops": s.Directory.Nearby(lat, lon, limit)})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["shop_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", 400)
		return
	}
	s.WSReg.Add(id, conn)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
