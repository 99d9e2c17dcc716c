// Package encryption protects database backup snapshots at rest.
package encryption

import (
	"fmt"
	"io"

	"kbwatch/internal/config"
)

// Encryptor encrypts and decrypts backup snapshot streams.
type Encryptor interface {
	Encrypt(r io.Reader, w io.Writer) error
	Decrypt(r io.Reader, w io.Writer) error
}

// NewFromConfig returns the Encryptor matching the backup configuration:
// an age-based one when encryption is enabled, otherwise a passthrough.
func NewFromConfig(cfg config.BackupConfig) (Encryptor, error) {
	if !cfg.Encrypt {
		return &NopEncryptor{}, nil
	}
	if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
		return nil, fmt.Errorf("backup encryption enabled but key paths are not configured")
	}
	return NewAgeEncryptor(cfg.PublicKeyPath, cfg.PrivateKeyPath), nil
}

// NopEncryptor copies data through unchanged. Used when backup
// encryption is disabled, and in tests.
type NopEncryptor struct{}

func (*NopEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

func (*NopEncryptor) Decrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}
