package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"didledger/internal/did/models"
	"didledger/internal/did/service"
	"didledger/internal/platform/middleware"
	dErrors "didledger/pkg/domain-errors"
	"didledger/pkg/platform/httputil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service is the lifecycle engine as seen by the transport.
type Service interface {
	Create(ctx context.Context, signingKey string, services []models.Service) (*models.Document, error)
	Resolve(ctx context.Context, id string) (*models.Document, error)
	Update(ctx context.Context, id string, auth service.Authorization, doc *models.Document) (*models.Document, error)
	Deactivate(ctx context.Context, id string, auth service.Authorization) error
	History(ctx context.Context, id string) ([]models.Operation, error)
}

// Handler serves the /did routes.
type Handler struct {
	logger *slog.Logger
	did    Service
}

// New creates a DID Handler.
func New(did Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, did: did}
}

// Register registers the DID routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/did", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleResolve)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDeactivate)
		r.Get("/{id}/history", h.handleHistory)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}

	doc, err := h.did.Create(ctx, req.SigningKey, req.Services)
	if err != nil {
		h.fail(ctx, w, "create", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, doc)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	doc, err := h.did.Resolve(ctx, id)
	if err != nil {
		h.fail(ctx, w, "resolve", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req UpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	doc, err := h.did.Update(ctx, id, req.Authorization(), req.Document)
	if err != nil {
		h.fail(ctx, w, "update", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req DeactivateRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.did.Deactivate(ctx, id, req.Authorization()); err != nil {
		h.fail(ctx, w, "deactivate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nil)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	ops, err := h.did.History(ctx, id)
	if err != nil {
		h.fail(ctx, w, "history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ops)
}

type validatable interface {
	Validate() error
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req validatable) bool {
	ctx := r.Context()
	if err := httputil.DecodeJSON(w, r, req); err != nil {
		h.logger.WarnContext(ctx, "invalid request body",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return false
	}
	if err := req.Validate(); err != nil {
		h.logger.WarnContext(ctx, "invalid request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return false
	}
	return true
}

// pathID reads {id}. Clients may percent-encode the colons of a DID.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || id == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid identifier"))
		return "", false
	}
	return id, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	if dErrors.HasCode(err, dErrors.CodeInternal) || !isDomainError(err) {
		h.logger.ErrorContext(ctx, "did operation failed",
			"operation", operation,
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
	} else {
		h.logger.InfoContext(ctx, "did operation rejected",
			"operation", operation,
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}

func isDomainError(err error) bool {
	_, ok := dErrors.As(err)
	return ok
}
