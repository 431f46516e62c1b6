// Package service is the DID lifecycle engine: Create, Resolve, Update and
// Deactivate over an injected store, with signature-based authorization.
//
// Every mutation follows the same path: read the committed snapshot,
// authorize against the snapshot's authentication set, build the next
// document, then compare-and-update on the snapshot's Updated value. No lock
// is held across verification, and a lost race surfaces as a conflict rather
// than a silent retry.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"didledger/internal/anchor"
	"didledger/internal/did/keys"
	"didledger/internal/did/metrics"
	"didledger/internal/did/models"
	"didledger/pkg/attrs"
	dErrors "didledger/pkg/domain-errors"
	"didledger/pkg/platform/audit"
	"didledger/pkg/platform/sentinel"
	"didledger/pkg/requestcontext"
)

// DefaultMethod is the DID method used when none is configured.
const DefaultMethod = "web"

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store Notifier AuditPublisher

type Store interface {
	Create(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id string) (*models.Document, error)
	CompareAndUpdate(ctx context.Context, id string, expectedUpdated int64, doc *models.Document) error
	MarkDeactivated(ctx context.Context, id string, expectedUpdated, deactivatedAt int64) error
	History(ctx context.Context, id string) ([]models.Operation, error)
}

// Notifier receives committed transitions. Notify must not block.
type Notifier interface {
	Notify(ev anchor.Event)
}

// AuditPublisher records committed transitions and rejected attempts.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates the document lifecycle.
type Service struct {
	store          Store
	method         string
	notifier       Notifier
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNotifier wires the anchoring dispatcher.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = p
	}
}

// WithMethod sets the DID method of newly created identifiers.
func WithMethod(method string) Option {
	return func(s *Service) {
		if method != "" {
			s.method = method
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		method: DefaultMethod,
		tracer: otel.Tracer("didledger/internal/did/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Method returns the DID method this service issues.
func (s *Service) Method() string {
	return s.method
}

// Create derives the identifier from the signing key and registers the
// initial document. Reusing a key fails with already_exists.
func (s *Service) Create(ctx context.Context, signingKey string, services []models.Service) (doc *models.Document, err error) {
	ctx, finish := s.begin(ctx, "create")
	defer func() { finish(err) }()

	publicKey, err := keys.DerivePublicKey(signingKey)
	if err != nil {
		return nil, err
	}
	doc = models.NewDocument(s.method, publicKey, services, requestcontext.Now(ctx).Unix())
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("did", doc.ID))
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, doc); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return nil, dErrors.New(dErrors.CodeAlreadyExists, "a document for this key already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create document")
	}

	s.committed(ctx, models.OperationCreate, doc, "key_id", doc.PublicKeys[0].ID)
	if s.metrics != nil {
		s.metrics.IncrementDocumentsCreated()
	}
	return doc.Clone(), nil
}

// Resolve returns the current document, tombstones included. No
// authorization is required.
func (s *Service) Resolve(ctx context.Context, id string) (doc *models.Document, err error) {
	ctx, finish := s.begin(ctx, "resolve", attribute.String("did", id))
	defer func() { finish(err) }()

	return s.load(ctx, id)
}

// Update replaces the caller-controlled content of a document. The caller
// must prove control of a key referenced by the committed authentication
// set; the proposed document's own keys are never trusted for that.
func (s *Service) Update(ctx context.Context, id string, auth Authorization, proposed *models.Document) (doc *models.Document, err error) {
	ctx, finish := s.begin(ctx, "update", attribute.String("did", id))
	defer func() { finish(err) }()

	if proposed == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "document is required")
	}
	current, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	keyID, err := authorize(current, auth, models.UpdateMessage(current, proposed))
	if err != nil {
		s.rejected(ctx, id, err, audit.ActionStaleProof)
		return nil, err
	}

	next := proposed.Clone()
	next.ID = current.ID
	next.Created = current.Created
	next.Deactivated = false
	next.Updated = current.NextUpdated(requestcontext.Now(ctx).Unix())
	if next.Services == nil {
		next.Services = []models.Service{}
	}
	// Rotating away the authorizing key is allowed; orphaning the document is not.
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.CompareAndUpdate(ctx, id, current.Updated, next); err != nil {
		err = translateStoreError(err, "failed to update document")
		s.rejected(ctx, id, err, audit.ActionWriteConflict)
		return nil, err
	}

	s.committed(ctx, models.OperationUpdate, next, "key_id", keyID)
	return next.Clone(), nil
}

// Deactivate permanently retires a document. It stays resolvable as a tombstone.
func (s *Service) Deactivate(ctx context.Context, id string, auth Authorization) (err error) {
	ctx, finish := s.begin(ctx, "deactivate", attribute.String("did", id))
	defer func() { finish(err) }()

	current, err := s.loadActive(ctx, id)
	if err != nil {
		return err
	}
	keyID, err := authorize(current, auth, models.DeactivateMessage(current))
	if err != nil {
		s.rejected(ctx, id, err, audit.ActionStaleProof)
		return err
	}

	deactivatedAt := current.NextUpdated(requestcontext.Now(ctx).Unix())
	if err := s.store.MarkDeactivated(ctx, id, current.Updated, deactivatedAt); err != nil {
		err = translateStoreError(err, "failed to deactivate document")
		s.rejected(ctx, id, err, audit.ActionWriteConflict)
		return err
	}

	tombstone := current.Clone()
	tombstone.Deactivated = true
	tombstone.Updated = deactivatedAt
	s.committed(ctx, models.OperationDeactivate, tombstone, "key_id", keyID)
	return nil
}

// History returns the hash-chained operation log of a document.
func (s *Service) History(ctx context.Context, id string) (ops []models.Operation, err error) {
	ctx, finish := s.begin(ctx, "history", attribute.String("did", id))
	defer func() { finish(err) }()

	ops, err = s.store.History(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "failed to load history")
	}
	return ops, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "failed to load document")
	}
	return doc, nil
}

func (s *Service) loadActive(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Deactivated {
		return nil, dErrors.New(dErrors.CodeTerminalState, "document is deactivated")
	}
	return doc, nil
}

func translateStoreError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "document not found")
	case errors.Is(err, sentinel.ErrAlreadyExists):
		return dErrors.New(dErrors.CodeAlreadyExists, "document already exists")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "document changed since it was read; resolve it and retry")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeTerminalState, "document is deactivated")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

// committed runs the post-commit duties: audit and anchoring.
func (s *Service) committed(ctx context.Context, kind models.OperationKind, doc *models.Document, attributes ...any) {
	attributes = append(attributes, "did", doc.ID, "updated", doc.Updated)
	s.logAudit(ctx, committedAction(kind), attributes...)
	if s.notifier != nil {
		s.notifier.Notify(anchor.NewEvent(kind, doc))
	}
}

func committedAction(kind models.OperationKind) audit.Action {
	switch kind {
	case models.OperationCreate:
		return audit.ActionDIDCreated
	case models.OperationUpdate:
		return audit.ActionDIDUpdated
	default:
		return audit.ActionDIDDeactivated
	}
}

// rejected audits refused signatures and conflicts. A conflict is recorded
// as onConflict, which differs between a stale proof and a lost write race.
func (s *Service) rejected(ctx context.Context, id string, err error, onConflict audit.Action) {
	de, ok := dErrors.As(err)
	if !ok {
		return
	}
	var action audit.Action
	switch de.Code {
	case dErrors.CodeUnauthorized:
		action = audit.ActionAuthorizationFailed
	case dErrors.CodeConflict:
		action = onConflict
	default:
		return
	}
	s.logAudit(ctx, action, "did", id, "reason", de.Message)
}

func (s *Service) logAudit(ctx context.Context, action audit.Action, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	event := string(action)
	args := append(attributes, "event", event, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, args...)
	}
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		DID:    attrs.ExtractString(attributes, "did"),
		Action: action,
		KeyID:  attrs.ExtractString(attributes, "key_id"),
		Reason: attrs.ExtractString(attributes, "reason"),
	})
	if err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "event", event, "error", err)
	}
}

// begin opens a span and returns a finisher that records the outcome on the
// span and in metrics.
func (s *Service) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "did."+operation, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = string(dErrors.CodeInternal)
			if de, ok := dErrors.As(err); ok {
				outcome = string(de.Code)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		if s.metrics != nil {
			s.metrics.Observe(operation, outcome, start)
		}
	}
}
