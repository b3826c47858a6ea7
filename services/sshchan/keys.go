package sshchan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/btcsuite/btcutil/bech32"
)

const (
	envAgeSecretKey = "AGE_SECRET_KEY"

	ageBinaryHeader = "age-encryption.org/v1"

	keyDirMode  = 0o700
	keyFileMode = 0o600
)

// KeySource resolves a user's private key material from the vault.
// Implementations signal a missing credential by returning an error that
// matches ErrCredentialNotFound via errors.Is.
type KeySource interface {
	PrivateKey(ctx context.Context, username string) (string, error)
}

// KeyResolver materializes vault key material into per-user key files with
// restrictive permissions, decrypting age-encrypted material when an
// identity is configured.
type KeyResolver struct {
	source   KeySource
	dir      string
	identity *age.X25519Identity
}

// NewKeyResolver creates a resolver writing key files below dir.
// When AGE_SECRET_KEY is set it is validated and parsed as the decryption
// identity for age-encrypted vault entries.
func NewKeyResolver(source KeySource, dir string) (*KeyResolver, error) {
	if source == nil {
		return nil, errors.New("key source is required")
	}
	if dir == "" {
		return nil, errors.New("key directory is required")
	}

	r := &KeyResolver{source: source, dir: dir}

	if secret := strings.TrimSpace(os.Getenv(envAgeSecretKey)); secret != "" {
		if err := validateAgeSecretKey(secret); err != nil {
			return nil, fmt.Errorf("parse %s: %w", envAgeSecretKey, err)
		}
		identity, err := age.ParseX25519Identity(secret)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", envAgeSecretKey, err)
		}
		r.identity = identity
	}

	return r, nil
}

// Resolve returns the path of the materialized key file for username,
// creating it on first use. An existing file is reused as-is.
func (r *KeyResolver) Resolve(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", errors.New("username is required")
	}

	path := filepath.Join(r.dir, username)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	material, err := r.source.PrivateKey(ctx, username)
	if err != nil {
		return "", fmt.Errorf("vault lookup for %s: %w", username, err)
	}

	key, err := r.normalize(material)
	if err != nil {
		return "", fmt.Errorf("key material for %s: %w", username, err)
	}

	if err := os.MkdirAll(r.dir, keyDirMode); err != nil {
		return "", fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(key), keyFileMode); err != nil {
		return "", fmt.Errorf("write key file: %w", err)
	}

	return path, nil
}

// Invalidate removes a previously materialized key file, forcing the next
// Resolve to consult the vault again.
func (r *KeyResolver) Invalidate(username string) error {
	err := os.Remove(filepath.Join(r.dir, username))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (r *KeyResolver) normalize(material string) (string, error) {
	if isAgeEncrypted(material) {
		if r.identity == nil {
			return "", fmt.Errorf("key is age-encrypted but %s is not set", envAgeSecretKey)
		}
		plain, err := decryptAge(material, r.identity)
		if err != nil {
			return "", err
		}
		material = plain
	}

	material = strings.ReplaceAll(material, "\r\n", "\n")
	material = strings.ReplaceAll(material, "\r", "\n")
	if !strings.HasSuffix(material, "\n") {
		material += "\n"
	}
	return material, nil
}

func isAgeEncrypted(material string) bool {
	trimmed := strings.TrimSpace(material)
	return strings.HasPrefix(trimmed, armor.Header) || strings.HasPrefix(trimmed, ageBinaryHeader)
}

func decryptAge(material string, identity age.Identity) (string, error) {
	var src io.Reader = strings.NewReader(material)
	if strings.HasPrefix(strings.TrimSpace(material), armor.Header) {
		src = armor.NewReader(strings.NewReader(strings.TrimSpace(material)))
	}

	reader, err := age.Decrypt(src, identity)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}

	var out bytes.Buffer
	if _, err := io.Copy(&out, reader); err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	return out.String(), nil
}

func validateAgeSecretKey(raw string) error {
	hrp, _, err := bech32.Decode(raw)
	if err != nil {
		return err
	}
	if !strings.EqualFold(hrp, "age-secret-key-") {
		return fmt.Errorf("unexpected hrp %q", hrp)
	}
	return nil
}
