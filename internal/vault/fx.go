package vault

import (
	"crypto/sha256"
	"errors"
	"strings"

	"github.com/smallbiznis/gatemeter/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("vault",
	fx.Provide(NewFromConfig),
)

// NewFromConfig derives a 256-bit key from the configured secret.
func NewFromConfig(cfg config.Config) (*Vault, error) {
	secret := strings.TrimSpace(cfg.VaultKeySecret)
	if secret == "" {
		return nil, errors.New("vault_key_secret_required")
	}
	sum := sha256.Sum256([]byte(secret))
	return New(sum[:])
}
