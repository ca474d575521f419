package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nerrad567/divert-core/internal/infrastructure/config"
)

// Key file permissions.
const (
	keyDirPermissions  = 0700
	keyFilePermissions = 0600
)

// ResolveKey returns the 32-byte encryption key for the vault.
//
// Resolution order:
//  1. cfg.Key (base64)
//  2. the contents of cfg.KeyFile (base64)
//  3. when cfg.AutoGenerate is set, a new random key written to cfg.KeyFile
//
// Step 3 logs a warning: a lost key file makes every stored credential
// unreadable.
//
// Parameters:
//   - cfg: The security.vault configuration section
//   - logger: Receives the generation warning (nil for none)
//
// Returns:
//   - []byte: The decoded key
//   - error: ErrNoKey when nothing is configured, ErrInvalidKey for a bad key
func ResolveKey(cfg config.VaultConfig, logger Logger) ([]byte, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	if cfg.Key != "" {
		return decodeKey(cfg.Key)
	}

	if cfg.KeyFile != "" {
		data, err := os.ReadFile(cfg.KeyFile)
		switch {
		case err == nil:
			return decodeKey(string(data))
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("reading vault key file: %w", err)
		}
	}

	if !cfg.AutoGenerate || cfg.KeyFile == "" {
		return nil, ErrNoKey
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating vault key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.KeyFile), keyDirPermissions); err != nil {
		return nil, fmt.Errorf("creating vault key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key) + "\n"
	if err := os.WriteFile(cfg.KeyFile, []byte(encoded), keyFilePermissions); err != nil {
		return nil, fmt.Errorf("writing vault key file: %w", err)
	}

	logger.Warn("generated new vault encryption key",
		"key_file", cfg.KeyFile,
		"action_required", "back up this file or set DIVERT_VAULT_KEY; losing it makes stored credentials unreadable",
	)

	return key, nil
}

// GenerateKey returns a new random key in the base64 form ResolveKey accepts.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating vault key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	return key, nil
}
