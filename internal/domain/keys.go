package domain

import (
	"context"
	"time"
)

type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRetired KeyStatus = "retired"
	KeyStatusRevoked KeyStatus = "revoked"
)

type KeyPurpose string

const (
	KeyPurposeAttestation KeyPurpose = "attestation"
)

// KeyRef identifies a key inside a KeyManager without exposing private
// material. Holders of a KeyRef can request signatures; they can never read
// the key.
type KeyRef struct {
	Purpose KeyPurpose
	KID     string
}

// SigningKey is the public half of an attestation key plus its lifecycle
// state. Retired keys still verify old attestations; revoked keys verify
// nothing.
type SigningKey struct {
	KID       string
	Alg       string
	PublicKey []byte
	Status    KeyStatus
	CreatedAt time.Time
	RetiredAt *time.Time
}

// KeyManager performs signing with keys resolved by KeyRef. Public returns
// the verification key so callers can hand it to offline verifiers.
type KeyManager interface {
	Sign(ctx context.Context, ref KeyRef, payload []byte) ([]byte, error)
	Public(ctx context.Context, ref KeyRef) ([]byte, error)
}

// KeyMaterial is the full key pair handed to a KeyMaterialStore once, at
// mint time. It never travels anywhere else; signing goes through KeyRef.
type KeyMaterial struct {
	Ref        KeyRef
	PrivateKey []byte
	PublicKey  []byte
	Alg        string
	Status     KeyStatus
	CreatedAt  time.Time
}

// KeyMaterialStore persists private key material for a KeyManager backend.
type KeyMaterialStore interface {
	Put(ctx context.Context, material KeyMaterial) error
	Delete(ctx context.Context, ref KeyRef) error
}
