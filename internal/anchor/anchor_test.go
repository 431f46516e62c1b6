package anchor

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"didledger/internal/did/models"
)

func TestNewEventSnapshotsDocument(t *testing.T) {
	doc := models.NewDocument("web", bytes.Repeat([]byte{1}, 32), nil, 100)
	ev := NewEvent(models.OperationCreate, doc)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, doc.ID, ev.DID)
	assert.Equal(t, models.DocumentHash(doc), ev.DocumentHash)
	assert.Equal(t, doc.PublicKeys[0].PublicKeyBase58, ev.PublicKeyBase58)
	assert.EqualValues(t, 100, ev.Updated)

	doc.Services = append(doc.Services, models.Service{ID: "svc1"})
	assert.Empty(t, ev.Document.Services, "event must not alias the committed document")
	assert.NotEqual(t, ev.ID, NewEvent(models.OperationCreate, doc).ID)
}

func TestLogGateway(t *testing.T) {
	var buf bytes.Buffer
	g := NewLogGateway(slog.New(slog.NewJSONHandler(&buf, nil)))
	doc := models.NewDocument("web", bytes.Repeat([]byte{1}, 32), nil, 100)

	require.NoError(t, g.Anchor(context.Background(), NewEvent(models.OperationDeactivate, doc)))
	assert.Equal(t, "log", g.Name())
	assert.Contains(t, buf.String(), `"kind":"deactivate"`)
	assert.Contains(t, buf.String(), doc.ID)
}
