package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"didledger/internal/did/handler"
	"didledger/internal/did/keys"
	"didledger/internal/did/models"
	"didledger/internal/did/service"
	"didledger/internal/did/store/memory"
	"didledger/internal/platform/metrics"
	httptransport "didledger/internal/transport/http"
	dErrors "didledger/pkg/domain-errors"
)

// ClientSuite runs the client against a real router, engine and memory store.
type ClientSuite struct {
	suite.Suite
	server *httptest.Server
	client *Client
	ctx    context.Context
	key    string
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	router := httptransport.NewRouter(httptransport.Config{
		Logger:   log,
		Metrics:  metrics.New(reg),
		Gatherer: reg,
	}, handler.New(service.New(memory.New(), service.WithLogger(log)), log))
	s.server = httptest.NewServer(router)
	s.T().Cleanup(s.server.Close)

	var err error
	s.client, err = New(s.server.URL, WithHTTPClient(s.server.Client()))
	s.Require().NoError(err)
	s.ctx = context.Background()
	s.key = keys.EncodeBase58(bytes.Repeat([]byte{5}, keys.SeedSize))
}

func (s *ClientSuite) assertCode(err error, code dErrors.Code) {
	s.T().Helper()
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, code), "expected %s, got %v", code, err)
}

func (s *ClientSuite) TestLifecycleOverHTTP() {
	doc, err := s.client.Create(s.ctx, s.key, nil)
	s.Require().NoError(err)
	s.True(models.VerifyIDBinding(doc))

	_, err = s.client.Create(s.ctx, s.key, nil)
	s.assertCode(err, dErrors.CodeAlreadyExists)

	resolved, err := s.client.Resolve(s.ctx, doc.ID)
	s.Require().NoError(err)
	s.Equal(doc.ID, resolved.ID)

	proposed := resolved.Clone()
	proposed.Services = []models.Service{{ID: "svc1", Type: "LinkedDomains", Endpoint: "https://example.com"}}
	proof, err := service.SignUpdate(resolved, proposed, s.key)
	s.Require().NoError(err)
	updated, err := s.client.Update(s.ctx, doc.ID, service.Authorization{Proof: proof}, proposed)
	s.Require().NoError(err)
	s.Equal("svc1", updated.Services[0].ID)

	_, err = s.client.Update(s.ctx, doc.ID, service.Authorization{Proof: proof}, proposed)
	s.assertCode(err, dErrors.CodeConflict)

	s.Require().NoError(s.client.Deactivate(s.ctx, doc.ID, service.Authorization{SigningKey: s.key}))
	err = s.client.Deactivate(s.ctx, doc.ID, service.Authorization{SigningKey: s.key})
	s.assertCode(err, dErrors.CodeTerminalState)

	ops, err := s.client.History(s.ctx, doc.ID)
	s.Require().NoError(err)
	s.Len(ops, 3)
	s.NoError(models.VerifyChain(ops))
}

func (s *ClientSuite) TestErrorsRoundTrip() {
	_, err := s.client.Resolve(s.ctx, "did:web:missing")
	s.assertCode(err, dErrors.CodeNotFound)

	_, err = s.client.Create(s.ctx, "0OIl", nil)
	s.assertCode(err, dErrors.CodeInvalidKey)
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("localhost:8080")
	require.Error(t, err)
}
