// Package models holds the DID document value types and their invariants.
// Nothing here performs I/O.
package models

import (
	"fmt"
	"slices"
	"strings"

	"didledger/internal/did/keys"
	dErrors "didledger/pkg/domain-errors"
)

// KeyTypeEd25519 is the only verification key type the registry accepts.
const KeyTypeEd25519 = "Ed25519VerificationKey2020"

// PrimaryKeyFragment names the key created together with the document.
const PrimaryKeyFragment = "#keys-1"

// Document is the authoritative record for one identifier.
//
// Invariants:
//   - ID has the form did:<method>:<method-specific-id> and never changes
//   - Authentication is non-empty, has no duplicates, and every entry names a PublicKeys id
//   - PublicKeys and Services ids are unique within the document
//   - Updated >= Created
//   - Deactivated is terminal
type Document struct {
	ID             string          `json:"id"`
	PublicKeys     []PublicKeyInfo `json:"public_keys"`
	Authentication []string        `json:"authentication"`
	Services       []Service       `json:"services"`
	Created        int64           `json:"created"`
	Updated        int64           `json:"updated"`
	Deactivated    bool            `json:"deactivated,omitempty"`
}

// PublicKeyInfo is one verification method of a document.
type PublicKeyInfo struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Controller      string `json:"controller"`
	PublicKeyBase58 string `json:"public_key_base58"`
}

// Service is an endpoint advertised by the DID subject.
type Service struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Endpoint string `json:"endpoint"`
}

// DeriveID maps a primary public key to its identifier. The same key always
// yields the same identifier.
func DeriveID(method string, publicKey []byte) string {
	return "did:" + method + ":" + keys.EncodeBase58(publicKey)
}

// SplitID returns the method and method-specific id of a DID string.
func SplitID(id string) (method, specificID string, err error) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] != "did" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("identifier %q is not of the form did:<method>:<id>", id)
	}
	return parts[1], parts[2], nil
}

// NewDocument builds the initial document for a freshly derived identifier.
func NewDocument(method string, publicKey []byte, services []Service, now int64) *Document {
	id := DeriveID(method, publicKey)
	primary := PublicKeyInfo{
		ID:              id + PrimaryKeyFragment,
		Type:            KeyTypeEd25519,
		Controller:      id,
		PublicKeyBase58: keys.EncodeBase58(publicKey),
	}
	if services == nil {
		services = []Service{}
	}
	return &Document{
		ID:             id,
		PublicKeys:     []PublicKeyInfo{primary},
		Authentication: []string{primary.ID},
		Services:       append([]Service{}, services...),
		Created:        now,
		Updated:        now,
	}
}

// VerifyIDBinding reports whether the identifier still encodes the primary
// public key. It holds from creation until the primary key is rotated away.
func VerifyIDBinding(doc *Document) bool {
	if doc == nil || len(doc.PublicKeys) == 0 {
		return false
	}
	_, specific, err := SplitID(doc.ID)
	if err != nil {
		return false
	}
	return specific == doc.PublicKeys[0].PublicKeyBase58
}

// Clone returns a deep copy so callers never share slices with the store.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.PublicKeys = slices.Clone(d.PublicKeys)
	out.Authentication = slices.Clone(d.Authentication)
	out.Services = slices.Clone(d.Services)
	return &out
}

// IsActive is true until the document is deactivated.
func (d *Document) IsActive() bool {
	return !d.Deactivated
}

// AuthorizingKey returns the authentication entry whose key material equals
// publicKeyBase58, or false when that key may not authorize mutations.
func (d *Document) AuthorizingKey(publicKeyBase58 string) (PublicKeyInfo, bool) {
	byID := make(map[string]PublicKeyInfo, len(d.PublicKeys))
	for _, pk := range d.PublicKeys {
		byID[pk.ID] = pk
	}
	for _, ref := range d.Authentication {
		if pk, ok := byID[ref]; ok && pk.PublicKeyBase58 == publicKeyBase58 {
			return pk, true
		}
	}
	return PublicKeyInfo{}, false
}

// NextUpdated returns the timestamp for the next mutation. Timestamps strictly
// increase even when the clock stalls or several mutations land in one second.
func (d *Document) NextUpdated(now int64) int64 {
	if now > d.Updated {
		return now
	}
	return d.Updated + 1
}

// Validate checks every document invariant. It runs before any state
// transition and leaves the document untouched.
func (d *Document) Validate() error {
	if d == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "document is required")
	}
	if _, _, err := SplitID(d.ID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "invalid document id")
	}
	if len(d.PublicKeys) == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "document must list at least one public key")
	}

	keyIDs := make(map[string]struct{}, len(d.PublicKeys))
	for i, pk := range d.PublicKeys {
		if pk.ID == "" {
			return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("public_keys[%d]: id is required", i))
		}
		if _, dup := keyIDs[pk.ID]; dup {
			return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("duplicate public key id %q", pk.ID))
		}
		keyIDs[pk.ID] = struct{}{}
		if pk.Type != KeyTypeEd25519 {
			return dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("public key %q: unsupported type %q", pk.ID, pk.Type))
		}
		if pk.Controller == "" {
			return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("public key %q: controller is required", pk.ID))
		}
		if _, err := keys.DecodePublicKey(pk.PublicKeyBase58); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidKey, fmt.Sprintf("public key %q is malformed", pk.ID))
		}
	}

	if len(d.Authentication) == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "authentication must reference at least one key")
	}
	refs := make(map[string]struct{}, len(d.Authentication))
	for _, ref := range d.Authentication {
		if _, dup := refs[ref]; dup {
			return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("duplicate authentication reference %q", ref))
		}
		refs[ref] = struct{}{}
		if _, ok := keyIDs[ref]; !ok {
			return dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("authentication reference %q does not name a public key", ref))
		}
	}

	svcIDs := make(map[string]struct{}, len(d.Services))
	for i, svc := range d.Services {
		if err := svc.validate(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvariantViolation, fmt.Sprintf("services[%d] is invalid", i))
		}
		if _, dup := svcIDs[svc.ID]; dup {
			return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("duplicate service id %q", svc.ID))
		}
		svcIDs[svc.ID] = struct{}{}
	}

	if d.Updated < d.Created {
		return dErrors.New(dErrors.CodeInvariantViolation, "updated must not precede created")
	}
	return nil
}

func (s Service) validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("id is required")
	case s.Type == "":
		return fmt.Errorf("type is required")
	case s.Endpoint == "":
		return fmt.Errorf("endpoint is required")
	}
	return nil
}
