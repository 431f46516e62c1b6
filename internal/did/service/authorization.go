package service

import (
	"didledger/internal/did/keys"
	"didledger/internal/did/models"
	dErrors "didledger/pkg/domain-errors"
)

// Authorization proves control of a key in the document's authentication
// set. Exactly one of SigningKey or Proof must be set.
type Authorization struct {
	// SigningKey is a Base58 Ed25519 seed. The engine signs the canonical
	// message with it on the caller's behalf and verifies the result.
	SigningKey string
	Proof      *Proof
}

// Proof is a detached signature over the canonical authorization message of
// the committed document version identified by Nonce.
type Proof struct {
	PublicKeyBase58 string `json:"public_key_base58"`
	SignatureBase58 string `json:"signature_base58"`
	Nonce           int64  `json:"nonce"`
}

// SignUpdate produces a detached proof authorizing current to be replaced by
// proposed.
func SignUpdate(current, proposed *models.Document, signingKey string) (*Proof, error) {
	return sign(current, models.UpdateMessage(current, proposed), signingKey)
}

// SignDeactivate produces a detached proof authorizing deactivation of current.
func SignDeactivate(current *models.Document, signingKey string) (*Proof, error) {
	return sign(current, models.DeactivateMessage(current), signingKey)
}

func sign(current *models.Document, message []byte, signingKey string) (*Proof, error) {
	publicKey, err := keys.DerivePublicKey(signingKey)
	if err != nil {
		return nil, err
	}
	sig, err := keys.Sign(message, signingKey)
	if err != nil {
		return nil, err
	}
	return &Proof{
		PublicKeyBase58: keys.EncodeBase58(publicKey),
		SignatureBase58: keys.EncodeBase58(sig),
		Nonce:           current.Updated,
	}, nil
}

// authorize checks auth against the authentication set of the committed
// snapshot and returns the id of the key that signed.
func authorize(current *models.Document, auth Authorization, message []byte) (string, error) {
	var (
		publicKey []byte
		signature []byte
		err       error
	)
	switch {
	case auth.SigningKey != "" && auth.Proof != nil:
		return "", dErrors.New(dErrors.CodeBadRequest, "provide either signing_key or proof, not both")
	case auth.SigningKey != "":
		if publicKey, err = keys.DerivePublicKey(auth.SigningKey); err != nil {
			return "", err
		}
		if signature, err = keys.Sign(message, auth.SigningKey); err != nil {
			return "", err
		}
	case auth.Proof != nil:
		if auth.Proof.Nonce != current.Updated {
			return "", dErrors.New(dErrors.CodeConflict, "proof was signed against a stale document version")
		}
		pk, err := keys.DecodePublicKey(auth.Proof.PublicKeyBase58)
		if err != nil {
			return "", err
		}
		publicKey = pk
		if signature, err = keys.DecodeBase58(auth.Proof.SignatureBase58); err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeUnauthorized, "signature is not valid base58")
		}
	default:
		return "", dErrors.New(dErrors.CodeBadRequest, "signing_key or proof is required")
	}

	key, ok := current.AuthorizingKey(keys.EncodeBase58(publicKey))
	if !ok {
		return "", dErrors.New(dErrors.CodeUnauthorized, "key is not authorized to modify this document")
	}
	if !keys.Verify(message, signature, publicKey) {
		return "", dErrors.New(dErrors.CodeUnauthorized, "signature does not verify")
	}
	return key.ID, nil
}
