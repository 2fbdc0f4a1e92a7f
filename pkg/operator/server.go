// Package operator implements the bearer-token-authenticated control
// plane (C13): state read, pause/kill, config update, model reload, and
// plan proof, routed to C3/C7/C11/C12. Grounded on the teacher's
// cmd/helm/main.go net/http wiring and pkg/api/middleware.go's
// per-IP rate limiter; response envelopes follow §6's literal shapes
// rather than the teacher's RFC 7807 problem-detail format, since the
// spec pins concrete JSON bodies.
package operator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mindburn-labs/governor-core/pkg/canonicalize"
	"github.com/mindburn-labs/governor-core/pkg/escape"
	"github.com/mindburn-labs/governor-core/pkg/eventlog"
	"github.com/mindburn-labs/governor-core/pkg/governor"
	"github.com/mindburn-labs/governor-core/pkg/governorconfig"
	"github.com/mindburn-labs/governor-core/pkg/planmodel"
	"github.com/mindburn-labs/governor-core/pkg/planprover"
	"github.com/mindburn-labs/governor-core/pkg/proofcache"
)

// Event identifiers emitted by the operator interface; distinct from
// the core's own cycle events but subject to the same "append via C2"
// contract.
const (
	eventPauseRequest = "pause-request"
	eventKillRequest  = "kill-request"
)

// ModelLoader supplies fresh model parameters for the /reload_model
// endpoint. Implementations read from whatever external source the
// deployment uses (file, object store, RPC); the operator core is
// agnostic to it.
type ModelLoader func(ctx context.Context) ([]float64, error)

// Server is the C13 HTTP surface.
type Server struct {
	auth    *Authenticator
	limiter *ipRateLimiter
	schema  interface{ Validate(interface{}) error }

	config      *governorconfig.Store
	hatches     *escape.Hatches
	gov         *governor.Governor
	cache       *proofcache.Cache
	eventLog    *eventlog.EventLog
	charterHash string
	modelLoader ModelLoader
	logger      *slog.Logger
}

// Config bundles Server construction parameters.
type Config struct {
	Token       string
	JWTSecret   []byte
	RPS         float64
	Burst       int
	ConfigStore *governorconfig.Store
	Hatches     *escape.Hatches
	Governor    *governor.Governor
	Cache       *proofcache.Cache
	EventLog    *eventlog.EventLog
	CharterHash string
	ModelLoader ModelLoader
	Logger      *slog.Logger
}

// New builds a Server from cfg.
func New(cfg Config) (*Server, error) {
	schema, err := compilePlanSchema()
	if err != nil {
		return nil, fmt.Errorf("operator: compile plan schema: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 20
	}

	return &Server{
		auth:        NewAuthenticator(cfg.Token, cfg.JWTSecret),
		limiter:     newIPRateLimiter(rps, burst),
		schema:      schema,
		config:      cfg.ConfigStore,
		hatches:     cfg.Hatches,
		gov:         cfg.Governor,
		cache:       cfg.Cache,
		eventLog:    cfg.EventLog,
		charterHash: cfg.CharterHash,
		modelLoader: cfg.ModelLoader,
		logger:      logger,
	}, nil
}

// Handler returns the routed http.Handler for the operator surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /state", s.rateLimited(s.requireAuth(s.handleState)))
	mux.HandleFunc("POST /pause", s.rateLimited(s.requireAuth(s.handlePause)))
	mux.HandleFunc("POST /kill", s.rateLimited(s.requireAuth(s.handleKill)))
	mux.HandleFunc("POST /config", s.rateLimited(s.requireAuth(s.handleConfig)))
	mux.HandleFunc("POST /reload_model", s.rateLimited(s.requireAuth(s.handleReloadModel)))
	mux.HandleFunc("POST /prove", s.rateLimited(s.requireAuth(s.handleProve)))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) appendEvent(event string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["request_id"] = uuid.New().String()
	if _, err := s.eventLog.Append(event, payload); err != nil {
		s.logger.Error("operator: failed to append event", "event", event, "error", err)
	}
}

// handleState implements GET /state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pause": s.hatches.IsPaused(),
		"kill":  s.hatches.KillRequested(),
	})
}

// handlePause implements POST /pause.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Flag bool `json:"flag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.hatches.RequestPause(body.Flag)
	s.appendEvent(eventPauseRequest, map[string]any{"pause": body.Flag})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pause": body.Flag})
}

// handleKill implements POST /kill.
func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	s.hatches.RequestKill()
	s.appendEvent(eventKillRequest, nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "kill": true})
}

// handleConfig implements POST /config.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RhoMax           *float64 `json:"rho_max"`
		EnergyMultiplier *float64 `json:"energy_multiplier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	cfg, err := s.config.Update(governorconfig.Updates{
		RhoMax:           body.RhoMax,
		EnergyMultiplier: body.EnergyMultiplier,
	})
	if err != nil {
		var fe *governorconfig.FieldError
		if errors.As(err, &fe) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"status": "rejected",
				"field":  fe.Field,
				"detail": fe.Msg,
			})
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.appendEvent(governor.EventConfigUpdate, map[string]any{"rho_max": cfg.RhoMax, "energy_multiplier": cfg.EnergyMultiplier})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "config": cfg})
}

// handleReloadModel implements POST /reload_model.
func (s *Server) handleReloadModel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.modelLoader != nil {
		params, err := s.modelLoader(ctx)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if err := s.gov.ReloadModel(ctx, params); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	rho, err := s.gov.Model.EstimateSpectralRadius(20, 1e-6, false)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded", "rho": rho})
}

// handleProve implements POST /prove: validates the body against the
// §6 Plan JSON schema, then against the DSL's structural shape
// (planmodel.Parse), then hands it to the plan prover. A well-formed
// but unsafe plan is never an error response here — Prove is the only
// layer that rejects it, via passed:false plus a counterexample, so
// malformed JSON, schema violations, planmodel.Parse structural errors
// and a failed cache-key hash are the only paths that reach a 500.
func (s *Server) handleProve(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := s.schema.Validate(doc); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	plan, err := planmodel.Parse(raw)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	cacheKey, err := canonicalize.CanonicalHash(plan)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	result := planprover.Prove(r.Context(), plan, s.charterHash, cacheKey, s.cache)
	writeJSON(w, http.StatusOK, map[string]any{"passed": result.Safe, "counterexample": result.Counterexample})
}
