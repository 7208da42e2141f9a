package main

import (
	"context"
	"errors"
	"log"

	"tally/internal/config"
	"tally/internal/domain"
	"tally/internal/infra/db"
	httpinfra "tally/internal/infra/http"
	"tally/internal/infra/keys/soft"
	"tally/internal/infra/keys/vault"
	"tally/internal/infra/ledgerbolt"
	"tally/internal/infra/ledgerdb"
	"tally/internal/infra/ledgermem"
	"tally/internal/infra/policyopa"
	"tally/internal/infra/signer"
	"tally/internal/infra/witness"
	"tally/internal/usecase"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	manager, material := buildKeyBackend(cfg)
	ref := domain.KeyRef{Purpose: domain.KeyPurposeAttestation, KID: cfg.LedgerKeyID}
	authority := signer.NewAuthority(manager, ref, nil)

	var store *db.Store
	var journal ledgermem.Journal
	switch {
	case cfg.PostgresDSN != "":
		var err error
		store, err = db.NewStore(cfg)
		if err != nil {
			log.Fatalf("failed to init store: %v", err)
		}
		if err := store.Migrate(); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
		journal = ledgerdb.NewJournal(store)
		log.Printf("commit log backend: postgres")
	case cfg.LedgerDBPath != "":
		var err error
		journal, err = ledgerbolt.Open(cfg.LedgerDBPath)
		if err != nil {
			log.Fatalf("failed to open ledger db %s: %v", cfg.LedgerDBPath, err)
		}
		log.Printf("commit log backend: bolt path=%s", cfg.LedgerDBPath)
	default:
		log.Printf("commit log backend: memory (commits are lost on restart)")
	}

	ledger, err := ledgermem.NewWithJournal(ctx, authority, journal, nil)
	if err != nil {
		log.Fatalf("failed to replay commit log: %v", err)
	}
	defer ledger.Close()

	var attempts domain.WitnessAttemptRepository
	var rotation *usecase.KeyRotationService
	keyRing := usecase.KeyRingSource(usecase.StoreRing{Manager: manager, Fallback: ref})
	if store != nil {
		attempts = db.NewWitnessAttemptRepository(store.DB)
		keyStore := db.NewSigningKeyRepository(store.DB)
		rotation = usecase.NewKeyRotationService(keyStore, material, authority, nil)
		rotation.Interval = cfg.KeyRotationInterval()
		bootstrapSigningKey(ctx, rotation, authority)
		keyRing = usecase.StoreRing{Store: keyStore, Manager: manager, Fallback: ref}
	}

	var publisher domain.WitnessPublisher
	if len(cfg.WitnessURLs) > 0 {
		publisher = witness.NewPublisher(cfg.WitnessURLs, cfg.WitnessTimeout(), attempts, nil)
		log.Printf("witness endpoints: %d", len(cfg.WitnessURLs))
	}

	var policy usecase.PolicyEngine
	if cfg.PolicyBundlePath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(ctx, cfg.PolicyBundlePath, cfg.PolicyBundleID)
		if err != nil {
			log.Fatalf("failed to load policy bundle: %v", err)
		}
		policy = engine
		log.Printf("admission policy: bundle=%s hash=%s", engine.BundleID(), engine.BundleHash())
	}

	if cfg.AttestInterval() > 0 || cfg.AttestBatch > 0 {
		sched := &signer.Scheduler{
			Ledger:   ledger,
			Witness:  publisher,
			Interval: cfg.AttestInterval(),
			Batch:    uint64(cfg.AttestBatch),
		}
		go func() {
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				// A stale attestation means the signed frontier went
				// backwards without a view change. Keeping the process up
				// would keep serving receipts nobody should trust.
				log.Fatalf("signer stopped: %v", err)
			}
		}()
	}

	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Ledger:   ledger,
		Policy:   policy,
		KeyRing:  keyRing,
		Rotation: rotation,
		Witness:  publisher,
	})
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func buildKeyBackend(cfg config.Config) (domain.KeyManager, domain.KeyMaterialStore) {
	switch cfg.KeyBackend {
	case "vault":
		manager, err := vault.NewManagerFromConfig(cfg)
		if err != nil {
			log.Fatalf("failed to init vault key manager: %v", err)
		}
		material, err := vault.NewStoreFromConfig(cfg)
		if err != nil {
			log.Fatalf("failed to init vault key store: %v", err)
		}
		return manager, material
	case "", "soft":
		manager := soft.NewManagerFromConfig(cfg)
		return manager, soft.NewStore(manager)
	default:
		log.Fatalf("unknown key backend %q", cfg.KeyBackend)
		return nil, nil
	}
}

// bootstrapSigningKey mints the first attestation key when the store has
// none, and rebinds the authority to the active key otherwise so restarts
// keep signing under the key receipts already reference.
func bootstrapSigningKey(ctx context.Context, rotation *usecase.KeyRotationService, authority *signer.Authority) {
	rotated, active, err := rotation.RotateIfDue(ctx)
	if err != nil {
		log.Fatalf("failed to bootstrap signing key: %v", err)
	}
	if rotated {
		log.Printf("rotated attestation key: kid=%s", active.KID)
		return
	}
	if active != nil {
		authority.Rebind(domain.KeyRef{Purpose: domain.KeyPurposeAttestation, KID: active.KID})
		log.Printf("active attestation key: kid=%s", active.KID)
	}
}
