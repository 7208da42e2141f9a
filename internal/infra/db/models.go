package db

import "time"

type LedgerEntryModel struct {
	Sequence  uint64    `gorm:"primaryKey;autoIncrement:false"`
	View      uint64    `gorm:"not null"`
	Key       string    `gorm:"index"`
	Value     []byte    `gorm:"type:bytea"`
	LeafHash  []byte    `gorm:"type:bytea;not null"`
	Pruned    bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
}

func (LedgerEntryModel) TableName() string { return "ledger_entries" }

type AttestationModel struct {
	ID                int64     `gorm:"primaryKey"`
	View              uint64    `gorm:"index;not null"`
	SequenceAtSigning uint64    `gorm:"index;not null"`
	RootHash          []byte    `gorm:"type:bytea;not null"`
	KeyID             string    `gorm:"not null"`
	Signature         []byte    `gorm:"type:bytea;not null"`
	IssuedAt          time.Time `gorm:"not null"`
}

func (AttestationModel) TableName() string { return "attestations" }

// LedgerStateModel is a single-row table carrying the non-append state.
type LedgerStateModel struct {
	ID        int    `gorm:"primaryKey;autoIncrement:false"`
	View      uint64 `gorm:"not null"`
	PruneMark uint64 `gorm:"not null"`
}

func (LedgerStateModel) TableName() string { return "ledger_state" }

type SigningKeyModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	KID       string `gorm:"uniqueIndex;not null"`
	Alg       string `gorm:"not null"`
	PublicKey []byte `gorm:"type:bytea;not null"`
	Status    string `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"not null"`
	RetiredAt *time.Time
}

func (SigningKeyModel) TableName() string { return "signing_keys" }

type WitnessAttemptModel struct {
	ID                string    `gorm:"type:uuid;primaryKey"`
	Endpoint          string    `gorm:"not null"`
	Status            string    `gorm:"index;not null"`
	Error             string
	View              uint64    `gorm:"not null"`
	SequenceAtSigning uint64    `gorm:"not null"`
	RootHex           string    `gorm:"not null"`
	AttemptedAt       time.Time `gorm:"index;not null"`
}

func (WitnessAttemptModel) TableName() string { return "witness_attempts" }
