// Package api serves the broker's read-only status API and claim event
// stream over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/tablease/internal/broker"
	"github.com/dgnsrekt/tablease/internal/types"
)

// Service is the broker state the API exposes.
type Service interface {
	Status(sessionID string) types.Status
	ListClaims() []types.Claim
	Sessions() []broker.SessionInfo
	Hub() *broker.Hub
}

type statusInput struct {
	SessionID string `query:"session" doc:"Include this session's state in the response."`
}

type statusOutput struct {
	Body types.Status
}

type claimsOutput struct {
	Body struct {
		Claims []types.Claim `json:"claims"`
	}
}

type claimInput struct {
	TabID int `path:"tab_id" minimum:"1"`
}

type claimOutput struct {
	Body types.Claim
}

type sessionsOutput struct {
	Body struct {
		Sessions []broker.SessionInfo `json:"sessions"`
	}
}

type toolInfo struct {
	Name        string `json:"name"`
	RequiresTab bool   `json:"requiresTab"`
}

type toolsOutput struct {
	Body struct {
		Tools []toolInfo `json:"tools"`
	}
}

// NewServer builds the API router. snaps may be nil, which leaves the
// snapshot routes out.
func NewServer(svc Service, snaps Snapshots) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("tablease broker API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(eventsDocsHTML)); err != nil {
			slog.Debug("events docs response write failed", "error", err)
		}
	})
	router.Get("/api/v1/events", eventsHandler(svc.Hub()))

	registerHandlers(api, svc)
	if snaps != nil {
		registerSnapshotHandlers(api, snaps)
	}
	return router
}

func registerHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-status", Method: http.MethodGet, Path: "/api/v1/status", Summary: "Upstream connectivity, claims and TTL", Tags: []string{"Broker"}},
		func(ctx context.Context, input *statusInput) (*statusOutput, error) {
			return &statusOutput{Body: svc.Status(input.SessionID)}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-claims", Method: http.MethodGet, Path: "/api/v1/claims", Summary: "List tab claims sorted by tab id", Tags: []string{"Claims"}},
		func(ctx context.Context, input *struct{}) (*claimsOutput, error) {
			out := &claimsOutput{}
			out.Body.Claims = svc.ListClaims()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-claim", Method: http.MethodGet, Path: "/api/v1/claims/{tab_id}", Summary: "Get the claim on one tab", Tags: []string{"Claims"}},
		func(ctx context.Context, input *claimInput) (*claimOutput, error) {
			for _, c := range svc.ListClaims() {
				if c.TabID == input.TabID {
					return &claimOutput{Body: c}, nil
				}
			}
			return nil, mapErr(types.Errorf(types.CodeNotFound, "tab %d is not claimed", input.TabID))
		})

	huma.Register(api, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/api/v1/sessions", Summary: "List known client sessions", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*sessionsOutput, error) {
			out := &sessionsOutput{}
			out.Body.Sessions = svc.Sessions()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-tools", Method: http.MethodGet, Path: "/api/v1/tools", Summary: "List tools the broker routes", Tags: []string{"Broker"}},
		func(ctx context.Context, input *struct{}) (*toolsOutput, error) {
			out := &toolsOutput{}
			for _, t := range types.Tools() {
				out.Body.Tools = append(out.Body.Tools, toolInfo{Name: t.String(), RequiresTab: t.RequiresTab()})
			}
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *types.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case types.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case types.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case types.CodeOwnershipConflict:
			return huma.Error409Conflict(coded.Message)
		case types.CodeRequestTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case types.CodeUpstreamUnavailable, types.CodeUpstreamDisconnected, types.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
