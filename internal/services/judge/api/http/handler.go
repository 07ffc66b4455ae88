// Package httpapi exposes the adjudication pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/rplusq/run-judge/internal/platform/errors"
	"github.com/rplusq/run-judge/internal/platform/httpx"
	"github.com/rplusq/run-judge/internal/services/judge/domain/challenge"
	"github.com/rplusq/run-judge/internal/services/judge/domain/verdict"
	"github.com/rplusq/run-judge/internal/services/judge/pipeline"
)

// maxBodyBytes bounds the analyze request body.
const maxBodyBytes = 1 << 16

// Runner executes the adjudication pipeline for one request.
type Runner interface {
	Run(ctx context.Context, req challenge.EvidenceRequest) (pipeline.Result, error)
}

// Config configures the HTTP handler.
type Config struct {
	Runner Runner
	// AuthKey enables HMAC bearer auth on /analyze when non-empty.
	AuthKey []byte
	Logger  *log.Logger
}

// Handler serves the judge HTTP boundary.
type Handler struct {
	cfg Config
}

// NewHandler validates cfg and builds a Handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Handler{cfg: cfg}, nil
}

// Routes assembles the endpoint mux with shared middleware applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/analyze", httpx.Chain(
		http.HandlerFunc(h.handleAnalyze),
		httpx.RequireMethod(http.MethodPost),
		h.requireAuth(),
	))
	mux.Handle("/health", httpx.Chain(
		http.HandlerFunc(h.handleHealth),
		httpx.RequireMethod(http.MethodGet),
	))
	return httpx.Chain(mux, httpx.RequestID(), httpx.RecoverPanic())
}

type analyzeRequest struct {
	ChallengeID    int64   `json:"challengeId"`
	ActivityIDs    []int64 `json:"activityIds"`
	DistanceMeters int64   `json:"distanceMeters"`
}

type analyzeResponse struct {
	Analysis         []verdict.ActivityAnalysis `json:"analysis"`
	WinnerActivityID *int64                     `json:"winnerActivityId"`
	AnalysisOutcome  string                     `json:"analysisOutcome"`
	TxHash           string                     `json:"txHash,omitempty"`
	Settled          bool                       `json:"settled"`
	Replayed         bool                       `json:"replayed,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Phase   string `json:"phase,omitempty"`
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		h.writeError(w, apperrors.Wrap(apperrors.CodeChallengeInvalidID, "malformed request body", err))
		return
	}
	if len(body.ActivityIDs) != 2 {
		h.writeError(w, apperrors.New(apperrors.CodeChallengeInvalidActivities,
			fmt.Sprintf("exactly two activity ids are required, got %d", len(body.ActivityIDs))))
		return
	}

	req, err := challenge.NewEvidenceRequest(body.ChallengeID,
		[2]int64{body.ActivityIDs[0], body.ActivityIDs[1]}, body.DistanceMeters)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.cfg.Runner.Run(httpx.RequestContext(r), req)
	if err != nil {
		h.cfg.Logger.Printf("analyze challenge=%d failed: %v", req.ChallengeID, err)
		h.writeError(w, err)
		return
	}

	resp := analyzeResponse{
		Analysis:        result.Verdict.Analysis,
		AnalysisOutcome: result.Verdict.Outcome,
		TxHash:          result.TxHash,
		Settled:         result.Settled,
		Replayed:        result.Replayed,
	}
	if resp.Analysis == nil {
		resp.Analysis = []verdict.ActivityAnalysis{}
	}
	if result.WinnerActivityID != 0 {
		winner := result.WinnerActivityID
		resp.WinnerActivityID = &winner
	}
	if result.Replayed {
		resp.AnalysisOutcome = "challenge already settled"
	}
	_ = httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAuth validates a signed bearer token on protected endpoints.
// A no-op when no key is configured, which is the local development
// posture.
func (h *Handler) requireAuth() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		if len(h.cfg.AuthKey) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, prefix) || strings.TrimSpace(header[len(prefix):]) == "" {
				_ = httpx.WriteJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
				return
			}
			raw := strings.TrimSpace(header[len(prefix):])
			_, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
				}
				return h.cfg.AuthKey, nil
			}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired())
			if err != nil {
				_ = httpx.WriteJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid bearer token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	resp := errorResponse{
		Error:   string(apperrors.CodeOf(err)),
		Details: err.Error(),
		Phase:   string(apperrors.PhaseOf(err)),
	}
	_ = httpx.WriteJSON(w, status, resp)
}
