package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"didledger/internal/anchor"
	"didledger/internal/did/metrics"
	"didledger/internal/did/models"
	"didledger/internal/did/service/mocks"
	dErrors "didledger/pkg/domain-errors"
	"didledger/pkg/platform/audit"
	"didledger/pkg/platform/sentinel"
	"didledger/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	store    *mocks.MockStore
	notifier *mocks.MockNotifier
	metrics  *metrics.Metrics
	svc      *Service
	current  *models.Document
	key      string
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.store = mocks.NewMockStore(ctrl)
	s.notifier = mocks.NewMockNotifier(ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.svc = New(s.store,
		WithNotifier(s.notifier),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.ctx = requestcontext.WithTime(context.Background(), time.Unix(2_000, 0))
	s.key = seed(3)
	s.current = models.NewDocument(DefaultMethod, mustPublicKey(s.T(), s.key), nil, 1_000)
}

func (s *ServiceSuite) TestCreate() {
	s.Run("already exists is translated", func() {
		s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(sentinel.ErrAlreadyExists)

		_, err := s.svc.Create(s.ctx, s.key, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
	})

	s.Run("store failures are internal", func() {
		s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

		_, err := s.svc.Create(s.ctx, s.key, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("a committed create is announced", func() {
		s.store.EXPECT().Create(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, doc *models.Document) error {
				s.Equal(s.current.ID, doc.ID)
				s.Equal(int64(2_000), doc.Created)
				return nil
			})
		s.notifier.EXPECT().Notify(gomock.Any()).Do(func(ev anchor.Event) {
			s.Equal(models.OperationCreate, ev.Kind)
			s.Equal(s.current.ID, ev.DID)
			s.Equal(s.current.PublicKeys[0].PublicKeyBase58, ev.PublicKeyBase58)
		})

		_, err := s.svc.Create(s.ctx, s.key, nil)
		s.Require().NoError(err)
	})

	s.Equal(1.0, promtest.ToFloat64(s.metrics.Operations.WithLabelValues("create", "ok")))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Operations.WithLabelValues("create", string(dErrors.CodeAlreadyExists))))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.DocumentsCreated))
}

func (s *ServiceSuite) TestUpdate() {
	proposed := s.current.Clone()
	proposed.Services = []models.Service{{ID: "svc1", Type: "LinkedDomains", Endpoint: "https://example.com"}}
	auth := Authorization{SigningKey: s.key}

	s.Run("compare-and-update runs against the snapshot version", func() {
		s.store.EXPECT().Get(gomock.Any(), s.current.ID).Return(s.current.Clone(), nil)
		s.store.EXPECT().CompareAndUpdate(gomock.Any(), s.current.ID, int64(1_000), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, _ int64, doc *models.Document) error {
				s.Equal(int64(2_000), doc.Updated)
				s.Equal(proposed.Services, doc.Services)
				return nil
			})
		s.notifier.EXPECT().Notify(gomock.Any())

		next, err := s.svc.Update(s.ctx, s.current.ID, auth, proposed)
		s.Require().NoError(err)
		s.Equal(int64(2_000), next.Updated)
	})

	s.Run("a lost race surfaces as conflict without retry", func() {
		s.store.EXPECT().Get(gomock.Any(), s.current.ID).Return(s.current.Clone(), nil)
		s.store.EXPECT().CompareAndUpdate(gomock.Any(), s.current.ID, int64(1_000), gomock.Any()).
			Return(sentinel.ErrConflict).Times(1)

		_, err := s.svc.Update(s.ctx, s.current.ID, auth, proposed)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("deactivation between read and write surfaces as conflict", func() {
		s.store.EXPECT().Get(gomock.Any(), s.current.ID).Return(s.current.Clone(), nil)
		s.store.EXPECT().CompareAndUpdate(gomock.Any(), s.current.ID, int64(1_000), gomock.Any()).
			Return(sentinel.ErrConflict)

		_, err := s.svc.Update(s.ctx, s.current.ID, auth, proposed)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown identifiers are not found", func() {
		s.store.EXPECT().Get(gomock.Any(), "did:web:nope").Return(nil, sentinel.ErrNotFound)

		_, err := s.svc.Update(s.ctx, "did:web:nope", auth, proposed)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unauthorized callers never reach the write path", func() {
		s.store.EXPECT().Get(gomock.Any(), s.current.ID).Return(s.current.Clone(), nil)

		_, err := s.svc.Update(s.ctx, s.current.ID, Authorization{SigningKey: seed(4)}, proposed)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestDeactivate() {
	auth := Authorization{SigningKey: s.key}

	s.Run("marks the snapshot version deactivated", func() {
		s.store.EXPECT().Get(gomock.Any(), s.current.ID).Return(s.current.Clone(), nil)
		s.store.EXPECT().MarkDeactivated(gomock.Any(), s.current.ID, int64(1_000), int64(2_000)).Return(nil)
		s.notifier.EXPECT().Notify(gomock.Any()).Do(func(ev anchor.Event) {
			s.Equal(models.OperationDeactivate, ev.Kind)
			s.True(ev.Document.Deactivated)
			s.Equal(int64(2_000), ev.Updated)
		})

		s.Require().NoError(s.svc.Deactivate(s.ctx, s.current.ID, auth))
	})

	s.Run("a tombstone is terminal before authorization runs", func() {
		tombstone := s.current.Clone()
		tombstone.Deactivated = true
		s.store.EXPECT().Get(gomock.Any(), s.current.ID).Return(tombstone, nil)

		err := s.svc.Deactivate(s.ctx, s.current.ID, Authorization{SigningKey: seed(4)})
		s.True(dErrors.HasCode(err, dErrors.CodeTerminalState))
	})

	s.Run("store failures are internal", func() {
		s.store.EXPECT().Get(gomock.Any(), s.current.ID).Return(nil, errors.New("connection reset"))

		err := s.svc.Deactivate(s.ctx, s.current.ID, auth)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func TestHistory(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	svc := New(store)
	ctx := context.Background()

	store.EXPECT().History(gomock.Any(), "did:web:missing").Return(nil, sentinel.ErrNotFound)
	_, err := svc.History(ctx, "did:web:missing")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	genesis := models.NextOperation(nil, models.OperationCreate, models.NewDocument("web", mustPublicKey(t, seed(5)), nil, 1))
	store.EXPECT().History(gomock.Any(), genesis.DID).Return([]models.Operation{genesis}, nil)
	ops, err := svc.History(ctx, genesis.DID)
	require.NoError(t, err)
	assert.Equal(t, []models.Operation{genesis}, ops)
}

func TestAuditEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	publisher := mocks.NewMockAuditPublisher(ctrl)
	svc := New(store, WithAuditPublisher(publisher))
	ctx := requestcontext.WithTime(context.Background(), time.Unix(2_000, 0))
	key := seed(3)
	current := models.NewDocument(DefaultMethod, mustPublicKey(t, key), nil, 1_000)

	t.Run("committed update records the signing key", func(t *testing.T) {
		store.EXPECT().Get(gomock.Any(), current.ID).Return(current.Clone(), nil)
		store.EXPECT().CompareAndUpdate(gomock.Any(), current.ID, int64(1_000), gomock.Any()).Return(nil)
		publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev audit.Event) error {
			assert.Equal(t, audit.ActionDIDUpdated, ev.Action)
			assert.Equal(t, current.ID, ev.DID)
			assert.Equal(t, current.ID+models.PrimaryKeyFragment, ev.KeyID)
			return nil
		})

		_, err := svc.Update(ctx, current.ID, Authorization{SigningKey: key}, current.Clone())
		require.NoError(t, err)
	})

	t.Run("foreign signer is a security event", func(t *testing.T) {
		store.EXPECT().Get(gomock.Any(), current.ID).Return(current.Clone(), nil)
		publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev audit.Event) error {
			assert.Equal(t, audit.ActionAuthorizationFailed, ev.Action)
			assert.Equal(t, audit.CategorySecurity, ev.Action.Category())
			assert.NotEmpty(t, ev.Reason)
			return nil
		})

		err := svc.Deactivate(ctx, current.ID, Authorization{SigningKey: seed(4)})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("stale proof and lost race are told apart", func(t *testing.T) {
		proof, err := SignDeactivate(current, key)
		require.NoError(t, err)
		proof.Nonce = 999

		store.EXPECT().Get(gomock.Any(), current.ID).Return(current.Clone(), nil)
		publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev audit.Event) error {
			assert.Equal(t, audit.ActionStaleProof, ev.Action)
			return nil
		})
		err = svc.Deactivate(ctx, current.ID, Authorization{Proof: proof})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

		store.EXPECT().Get(gomock.Any(), current.ID).Return(current.Clone(), nil)
		store.EXPECT().MarkDeactivated(gomock.Any(), current.ID, int64(1_000), int64(2_000)).Return(sentinel.ErrConflict)
		publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev audit.Event) error {
			assert.Equal(t, audit.ActionWriteConflict, ev.Action)
			return nil
		})
		err = svc.Deactivate(ctx, current.ID, Authorization{SigningKey: key})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("publisher failure does not fail the operation", func(t *testing.T) {
		store.EXPECT().Get(gomock.Any(), current.ID).Return(current.Clone(), nil)
		store.EXPECT().MarkDeactivated(gomock.Any(), current.ID, int64(1_000), int64(2_000)).Return(nil)
		publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit store down"))

		require.NoError(t, svc.Deactivate(ctx, current.ID, Authorization{SigningKey: key}))
	})
}
