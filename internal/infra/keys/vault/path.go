package vault

import (
	"errors"
	"fmt"

	"tally/internal/domain"
)

// Vault KV v2 path format (env-scoped, purpose-scoped):
// secret/data/tally/{env}/keys/{purpose}/{kid}
// Stored fields: alg, public_key_base64, private_key_base64.
const vaultKVPathFormat = "secret/data/tally/%s/keys/%s/%s"

func vaultPath(env string, ref domain.KeyRef) (string, error) {
	if env == "" {
		return "", errors.New("TALLY_ENV is required")
	}
	if err := validateKeyRef(ref); err != nil {
		return "", err
	}
	return fmt.Sprintf(vaultKVPathFormat, env, ref.Purpose, ref.KID), nil
}

func validateKeyRef(ref domain.KeyRef) error {
	if ref.KID == "" || ref.Purpose == "" {
		return errors.New("key ref is required")
	}
	switch ref.Purpose {
	case domain.KeyPurposeAttestation:
		return nil
	default:
		return errors.New("unsupported key purpose")
	}
}
