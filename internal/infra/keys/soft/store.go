package soft

import (
	"context"
	"errors"

	"tally/internal/domain"
)

// Store lets the rotation usecase hand key material to the in-process
// manager through the same interface the vault store implements.
type Store struct {
	manager *Manager
}

func NewStore(manager *Manager) *Store {
	return &Store{manager: manager}
}

func (s *Store) Put(_ context.Context, material domain.KeyMaterial) error {
	if s == nil || s.manager == nil {
		return errors.New("soft key manager is required")
	}
	if len(material.PrivateKey) == 0 {
		return errors.New("private key is required")
	}
	if err := validateKeyRef(material.Ref); err != nil {
		return err
	}
	key, err := parsePrivateKey(material.PrivateKey)
	if err != nil {
		return err
	}
	s.manager.install(material.Ref, key)
	return nil
}

func (s *Store) Delete(_ context.Context, ref domain.KeyRef) error {
	if s == nil || s.manager == nil {
		return errors.New("soft key manager is required")
	}
	if err := validateKeyRef(ref); err != nil {
		return err
	}
	s.manager.remove(ref)
	return nil
}
