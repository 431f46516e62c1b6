package handler

import (
	"didledger/internal/did/keys"
	"didledger/internal/did/models"
	"didledger/internal/did/service"
	dErrors "didledger/pkg/domain-errors"
)

// CreateRequest is the body of POST /did.
type CreateRequest struct {
	SigningKey string           `json:"signing_key"`
	Services   []models.Service `json:"services,omitempty"`
}

// UpdateRequest is the body of PUT /did/{id}.
type UpdateRequest struct {
	SigningKey string           `json:"signing_key,omitempty"`
	Proof      *service.Proof   `json:"proof,omitempty"`
	Document   *models.Document `json:"document"`
}

// DeactivateRequest is the body of DELETE /did/{id}.
type DeactivateRequest struct {
	SigningKey string         `json:"signing_key,omitempty"`
	Proof      *service.Proof `json:"proof,omitempty"`
}

func (r *CreateRequest) Validate() error {
	return validateSigningKey(r.SigningKey)
}

func (r *UpdateRequest) Validate() error {
	if r.Document == nil {
		return dErrors.New(dErrors.CodeBadRequest, "document is required")
	}
	return validateAuthorization(r.SigningKey, r.Proof)
}

func (r *UpdateRequest) Authorization() service.Authorization {
	return service.Authorization{SigningKey: r.SigningKey, Proof: r.Proof}
}

func (r *DeactivateRequest) Validate() error {
	return validateAuthorization(r.SigningKey, r.Proof)
}

func (r *DeactivateRequest) Authorization() service.Authorization {
	return service.Authorization{SigningKey: r.SigningKey, Proof: r.Proof}
}

func validateAuthorization(signingKey string, proof *service.Proof) error {
	switch {
	case signingKey != "" && proof != nil:
		return dErrors.New(dErrors.CodeBadRequest, "provide either signing_key or proof, not both")
	case signingKey != "":
		return validateSigningKey(signingKey)
	case proof != nil:
		if err := keys.ValidateBase58(proof.PublicKeyBase58); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidKey, "proof public key is not valid base58")
		}
		if proof.SignatureBase58 == "" {
			return dErrors.New(dErrors.CodeBadRequest, "proof signature is required")
		}
		return nil
	default:
		return dErrors.New(dErrors.CodeBadRequest, "signing_key or proof is required")
	}
}

// validateSigningKey checks alphabet and length before any cryptographic work.
func validateSigningKey(signingKey string) error {
	if signingKey == "" {
		return dErrors.New(dErrors.CodeBadRequest, "signing_key is required")
	}
	raw, err := keys.DecodeBase58(signingKey)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidKey, "signing key is not valid base58")
	}
	if len(raw) != keys.SeedSize {
		return dErrors.New(dErrors.CodeInvalidKey, "signing key must be a 32-byte Ed25519 seed")
	}
	return nil
}
