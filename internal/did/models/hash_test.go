package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationMessageLayout(t *testing.T) {
	msg := AuthorizationMessage("did:web:abc", OperationUpdate, 42, []byte{0xde, 0xad})
	assert.Equal(t, "didledger/v1\ndid:web:abc\nupdate\n42\ndead", string(msg))
}

func TestContentHash(t *testing.T) {
	doc := NewDocument("web", publicKey(1), nil, 10)

	t.Run("ignores timestamps and deactivation", func(t *testing.T) {
		other := doc.Clone()
		other.Updated = 99
		other.Deactivated = true
		assert.Equal(t, ContentHash(doc), ContentHash(other))
	})

	t.Run("nil and empty services hash the same", func(t *testing.T) {
		other := doc.Clone()
		other.Services = nil
		assert.Equal(t, ContentHash(doc), ContentHash(other))
	})

	t.Run("changes with services", func(t *testing.T) {
		other := doc.Clone()
		other.Services = []Service{{ID: "svc1", Type: "Messaging", Endpoint: "https://m.example"}}
		assert.NotEqual(t, ContentHash(doc), ContentHash(other))
	})
}

func TestMessagesBindNonce(t *testing.T) {
	doc := NewDocument("web", publicKey(1), nil, 10)
	next := doc.Clone()
	next.Updated = 11

	assert.NotEqual(t, UpdateMessage(doc, doc), UpdateMessage(next, doc))
	assert.NotEqual(t, DeactivateMessage(doc), DeactivateMessage(next))
	assert.NotEqual(t, UpdateMessage(doc, doc), DeactivateMessage(doc))
}

func TestDeactivatedOmittedWhenActive(t *testing.T) {
	doc := NewDocument("web", publicKey(1), nil, 10)
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "deactivated")

	doc.Deactivated = true
	b, err = json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"deactivated":true`)
}
