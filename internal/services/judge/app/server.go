// Package server composes the judge service: evidence capture,
// adjudication, settlement, storage, and the HTTP boundary.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/rplusq/run-judge/internal/platform/timeouts"
	httpapi "github.com/rplusq/run-judge/internal/services/judge/api/http"
	"github.com/rplusq/run-judge/internal/services/judge/adjudicate"
	"github.com/rplusq/run-judge/internal/services/judge/capture"
	"github.com/rplusq/run-judge/internal/services/judge/pipeline"
	"github.com/rplusq/run-judge/internal/services/judge/settle"
	"github.com/rplusq/run-judge/internal/services/judge/storage/sqlite"
)

// Config defines startup inputs for the judge service.
type Config struct {
	HTTPAddr string
	DBPath   string

	Environment     settle.Environment
	RPCURL          string
	ContractAddress string
	SignerKey       string

	StravaCookiesB64 string
	StravaBaseURL    string
	Headless         bool

	ModelAPIKey  string
	ModelBaseURL string
	Model        string

	AuthHMACKey string
}

// Server hosts the judge HTTP surface and lifecycle.
type Server struct {
	httpAddr   string
	httpServer *http.Server
	store      *sqlite.Store
	chain      *ethclient.Client
}

// New validates config and composes a judge server.
func New(ctx context.Context, cfg Config) (*Server, error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}

	rawCookies, err := capture.DecodeCookieBundle(cfg.StravaCookiesB64)
	if err != nil {
		return nil, fmt.Errorf("decode session cookies: %w", err)
	}
	capturer, err := capture.NewCapturer(capture.Config{
		BaseURL:  cfg.StravaBaseURL,
		Cookies:  capture.NormalizeCookies(rawCookies),
		Headless: cfg.Headless,
	})
	if err != nil {
		return nil, fmt.Errorf("build capturer: %w", err)
	}

	client, err := adjudicate.NewClient(adjudicate.Config{
		BaseURL: cfg.ModelBaseURL,
		APIKey:  cfg.ModelAPIKey,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("build model client: %w", err)
	}

	chain, err := settle.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	submitter, err := settle.NewSubmitter(settle.Config{
		Environment:  cfg.Environment,
		Contract:     cfg.ContractAddress,
		SignerKeyHex: cfg.SignerKey,
	}, chain)
	if err != nil {
		chain.Close()
		return nil, fmt.Errorf("build settlement submitter: %w", err)
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		chain.Close()
		return nil, fmt.Errorf("open settlement store: %w", err)
	}

	orchestrator, err := pipeline.NewOrchestrator(pipeline.Config{
		Capturer:    capturer,
		Adjudicator: client,
		Settler:     submitter,
		Store:       store,
		Logger:      log.Default(),
	})
	if err != nil {
		chain.Close()
		_ = store.Close()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	var authKey []byte
	if strings.TrimSpace(cfg.AuthHMACKey) != "" {
		authKey = []byte(cfg.AuthHMACKey)
	}
	handler, err := httpapi.NewHandler(httpapi.Config{
		Runner:  orchestrator,
		AuthKey: authKey,
		Logger:  log.Default(),
	})
	if err != nil {
		chain.Close()
		_ = store.Close()
		return nil, fmt.Errorf("compose judge handler: %w", err)
	}

	return &Server{
		httpAddr: httpAddr,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           handler.Routes(),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		store: store,
		chain: chain,
	}, nil
}

// ListenAndServe serves HTTP traffic until context cancellation or
// server stop.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("judge server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	log.Printf("listening on %s", s.httpAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown judge http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve judge http: %w", err)
	}
}

// Close closes open server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.chain != nil {
		s.chain.Close()
	}
}
