package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

// OperationKind names a committed state transition.
type OperationKind string

const (
	OperationCreate     OperationKind = "create"
	OperationUpdate     OperationKind = "update"
	OperationDeactivate OperationKind = "deactivate"
)

// authorizationDomain prefixes every signed message so signatures cannot be
// reused by another protocol that happens to sign similar bytes.
const authorizationDomain = "didledger/v1"

type documentContent struct {
	PublicKeys     []PublicKeyInfo `json:"public_keys"`
	Authentication []string        `json:"authentication"`
	Services       []Service       `json:"services"`
}

func canonicalContent(d *Document) documentContent {
	c := documentContent{
		PublicKeys:     d.PublicKeys,
		Authentication: d.Authentication,
		Services:       d.Services,
	}
	if c.PublicKeys == nil {
		c.PublicKeys = []PublicKeyInfo{}
	}
	if c.Authentication == nil {
		c.Authentication = []string{}
	}
	if c.Services == nil {
		c.Services = []Service{}
	}
	return c
}

// ContentHash digests the caller-controlled part of a document (keys,
// authentication, services). It is what an Update signature commits to.
func ContentHash(d *Document) []byte {
	// Marshalling plain structs of strings cannot fail.
	b, _ := json.Marshal(canonicalContent(d))
	sum := sha256.Sum256(b)
	return sum[:]
}

// DeactivationDigest is the digest signed for Deactivate, which carries no document.
func DeactivationDigest() []byte {
	sum := sha256.Sum256(nil)
	return sum[:]
}

// DocumentHash digests the full committed document, timestamps and flag included.
func DocumentHash(d *Document) string {
	c := d.Clone()
	if c.PublicKeys == nil {
		c.PublicKeys = []PublicKeyInfo{}
	}
	if c.Authentication == nil {
		c.Authentication = []string{}
	}
	if c.Services == nil {
		c.Services = []Service{}
	}
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// AuthorizationMessage is the byte string a controller signs to authorize a
// mutation:
//
//	didledger/v1 \n id \n kind \n nonce \n hex(digest)
//
// nonce is the Updated value of the committed document the caller read.
// Updated strictly increases, so a signature over an older state never
// verifies against a newer one.
func AuthorizationMessage(id string, kind OperationKind, nonce int64, digest []byte) []byte {
	msg := make([]byte, 0, len(authorizationDomain)+len(id)+len(kind)+20+2*len(digest)+4)
	msg = append(msg, authorizationDomain...)
	msg = append(msg, '\n')
	msg = append(msg, id...)
	msg = append(msg, '\n')
	msg = append(msg, kind...)
	msg = append(msg, '\n')
	msg = strconv.AppendInt(msg, nonce, 10)
	msg = append(msg, '\n')
	msg = append(msg, hex.EncodeToString(digest)...)
	return msg
}

// UpdateMessage is AuthorizationMessage for replacing current with proposed.
func UpdateMessage(current, proposed *Document) []byte {
	return AuthorizationMessage(current.ID, OperationUpdate, current.Updated, ContentHash(proposed))
}

// DeactivateMessage is AuthorizationMessage for deactivating current.
func DeactivateMessage(current *Document) []byte {
	return AuthorizationMessage(current.ID, OperationDeactivate, current.Updated, DeactivationDigest())
}
