// Package ledgerbolt persists the commit log in an embedded bbolt file, the
// default for single-node deployments. It is a ledgermem journal: the engine
// stays in memory, every mutation lands here first, and boot replays the file
// back through a fresh accumulator.
package ledgerbolt

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"tally/internal/domain"
	"tally/internal/infra/ledgermem"
)

var (
	bucketEntries      = []byte("entries")
	bucketAttestations = []byte("attestations")
	bucketState        = []byte("state")

	stateKey = []byte("ledger")
)

type Journal struct {
	db *bbolt.DB
}

func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketAttestations, bucketState} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init ledger db: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

type entryDoc struct {
	Sequence  uint64 `json:"sequence"`
	View      uint64 `json:"view"`
	Key       string `json:"key,omitempty"`
	Value     string `json:"value,omitempty"`
	LeafHash  string `json:"leaf_hash"`
	CreatedAt string `json:"created_at,omitempty"`
	Pruned    bool   `json:"pruned,omitempty"`
}

type attestationDoc struct {
	View              uint64 `json:"view"`
	SequenceAtSigning uint64 `json:"sequence_at_signing"`
	RootHash          string `json:"root_hash"`
	KeyID             string `json:"key_id"`
	Signature         string `json:"signature"`
	IssuedAt          string `json:"issued_at"`
}

type stateDoc struct {
	View      uint64 `json:"view"`
	PruneMark uint64 `json:"prune_mark"`
}

func (j *Journal) AppendEntry(ctx context.Context, entry domain.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := entryDoc{
		Sequence: entry.Sequence,
		View:     entry.View,
		Key:      entry.Key,
		Value:    base64.StdEncoding.EncodeToString(entry.Value),
		LeafHash: entry.Leaf.Hex(),
	}
	if !entry.CreatedAt.IsZero() {
		doc.CreatedAt = entry.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).Put(sequenceKey(entry.Sequence), raw)
	})
}

func (j *Journal) DeleteEntriesFrom(ctx context.Context, sequence uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketEntries).Cursor()
		for k, _ := cursor.Seek(sequenceKey(sequence)); k != nil; k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// PruneEntries strips payloads up to keep but leaves the leaf digests in
// place: replay needs every leaf to rebuild the tree's pruned spine.
func (j *Journal) PruneEntries(ctx context.Context, keep uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if binary.BigEndian.Uint64(k) > keep {
				break
			}
			var doc entryDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if doc.Pruned {
				continue
			}
			skeleton := entryDoc{
				Sequence: doc.Sequence,
				View:     doc.View,
				LeafHash: doc.LeafHash,
				Pruned:   true,
			}
			raw, err := json.Marshal(skeleton)
			if err != nil {
				return err
			}
			if err := bucket.Put(append([]byte(nil), k...), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func (j *Journal) AppendAttestation(ctx context.Context, att domain.RootAttestation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := attestationDoc{
		View:              att.View,
		SequenceAtSigning: att.SequenceAtSigning,
		RootHash:          att.Root.Hex(),
		KeyID:             att.KeyID,
		Signature:         base64.StdEncoding.EncodeToString(att.Signature),
		IssuedAt:          att.IssuedAt.UTC().Format(time.RFC3339Nano),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAttestations)
		id, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(id), raw)
	})
}

func (j *Journal) SaveState(ctx context.Context, state ledgermem.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(stateDoc{View: state.View, PruneMark: state.PruneMark})
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketState).Put(stateKey, raw)
	})
}

func (j *Journal) Load(ctx context.Context) (ledgermem.Replay, error) {
	if err := ctx.Err(); err != nil {
		return ledgermem.Replay{}, err
	}
	replay := ledgermem.Replay{State: ledgermem.State{View: 1}}
	err := j.db.View(func(tx *bbolt.Tx) error {
		if raw := tx.Bucket(bucketState).Get(stateKey); raw != nil {
			var doc stateDoc
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("decode state: %w", err)
			}
			replay.State = ledgermem.State{View: doc.View, PruneMark: doc.PruneMark}
			if replay.State.View == 0 {
				replay.State.View = 1
			}
		}

		cursor := tx.Bucket(bucketEntries).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var doc entryDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entry, err := entryFromDoc(doc)
			if err != nil {
				return fmt.Errorf("entry %d: %w", doc.Sequence, err)
			}
			replay.Entries = append(replay.Entries, entry)
		}

		attCursor := tx.Bucket(bucketAttestations).Cursor()
		for k, v := attCursor.First(); k != nil; k, v = attCursor.Next() {
			var doc attestationDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("decode attestation: %w", err)
			}
			att, err := attestationFromDoc(doc)
			if err != nil {
				return fmt.Errorf("attestation at %d: %w", doc.SequenceAtSigning, err)
			}
			replay.Attestations = append(replay.Attestations, att)
		}
		return nil
	})
	if err != nil {
		return ledgermem.Replay{}, err
	}
	return replay, nil
}

func entryFromDoc(doc entryDoc) (domain.Entry, error) {
	leaf, err := domain.ParseDigest(doc.LeafHash)
	if err != nil {
		return domain.Entry{}, err
	}
	entry := domain.Entry{
		Sequence: doc.Sequence,
		View:     doc.View,
		Key:      doc.Key,
		Leaf:     leaf,
	}
	if doc.Value != "" {
		value, err := base64.StdEncoding.DecodeString(doc.Value)
		if err != nil {
			return domain.Entry{}, err
		}
		entry.Value = value
	}
	if doc.CreatedAt != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, doc.CreatedAt)
		if err != nil {
			return domain.Entry{}, err
		}
		entry.CreatedAt = createdAt.UTC()
	}
	return entry, nil
}

func attestationFromDoc(doc attestationDoc) (domain.RootAttestation, error) {
	root, err := domain.ParseDigest(doc.RootHash)
	if err != nil {
		return domain.RootAttestation{}, err
	}
	sig, err := base64.StdEncoding.DecodeString(doc.Signature)
	if err != nil {
		return domain.RootAttestation{}, err
	}
	att := domain.RootAttestation{
		View:              doc.View,
		SequenceAtSigning: doc.SequenceAtSigning,
		Root:              root,
		KeyID:             doc.KeyID,
		Signature:         sig,
	}
	if doc.IssuedAt != "" {
		issuedAt, err := time.Parse(time.RFC3339Nano, doc.IssuedAt)
		if err != nil {
			return domain.RootAttestation{}, err
		}
		att.IssuedAt = issuedAt.UTC()
	}
	return att, nil
}

func sequenceKey(sequence uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, sequence)
	return key
}
