// Package db is the postgres persistence layer for fleet deployments: the
// commit log journal, attestation history, signing keys, and witness attempt
// records, all through gorm repositories.
package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"tally/internal/config"
)

type Store struct {
	DB *gorm.DB
}

func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		return &Store{DB: nil}, nil
	}
	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{DB: gdb}, nil
}

// Migrate creates or updates the schema. The daemon runs it at boot; the
// tables are small enough that automigration is the whole migration story.
func (s *Store) Migrate() error {
	if s == nil || s.DB == nil {
		return errDBUnavailable
	}
	return s.DB.AutoMigrate(
		&LedgerEntryModel{},
		&AttestationModel{},
		&LedgerStateModel{},
		&SigningKeyModel{},
		&WitnessAttemptModel{},
	)
}
