package httptransport

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"didledger/internal/platform/metrics"
	"didledger/internal/platform/middleware"
	"didledger/pkg/requestcontext"
	"didledger/pkg/testutil"
)

type pingRoutes struct{}

func (pingRoutes) Register(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		if requestcontext.RequestID(r.Context()) == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func newRouter() http.Handler {
	reg := prometheus.NewRegistry()
	return NewRouter(Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  metrics.New(reg),
		Gatherer: reg,
	}, pingRoutes{})
}

func TestHealth(t *testing.T) {
	rr := testutil.DoRequest(newRouter(), testutil.NewRequest(t, http.MethodGet, "/health"))
	testutil.AssertStatusOK(t, rr)
	assert.Equal(t, "ok", *testutil.UnmarshalData[string](t, rr))
	assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader))
}

func TestRegistrarsRunBehindTheMiddlewareChain(t *testing.T) {
	h := newRouter()
	rr := testutil.DoRequest(h, testutil.NewRequest(t, http.MethodGet, "/ping"))
	testutil.AssertStatus(t, rr, http.StatusNoContent)

	rr = testutil.DoRequest(h, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(t, rr)
	assert.True(t, strings.Contains(rr.Body.String(), "didledger_http_requests_total"))
}
