package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
)

// verifyChecksum compares the SHA-256 of path with expected. The file is
// left in place; the caller removes the entry on failure.
func verifyChecksum(path, expected string) error {
	if expected == "" {
		return zerr.Wrap(domain.ErrChecksumMismatch, "no checksum published for archive")
	}
	actual, err := calculateSHA256(path)
	if err != nil {
		return domain.IOError(zerr.With(zerr.Wrap(err, "hash archive"), "path", path))
	}
	if !strings.EqualFold(actual, expected) {
		return zerr.With(zerr.With(zerr.Wrap(domain.ErrChecksumMismatch, "archive checksum mismatch"),
			"expected", strings.ToLower(expected)), "actual", actual)
	}
	return nil
}

// verifySignature checks the detached signature of rel when a keyring is
// configured. sigPath is where the signature is stored alongside the archive.
func (m *Manager) verifySignature(ctx context.Context, rel *domain.Release, archive, sigPath string) error {
	if m.keyring == nil {
		return nil
	}
	if rel.SignatureURL == "" {
		if m.requireSignature {
			return zerr.Wrap(domain.ErrSignatureInvalid, "release publishes no signature")
		}
		m.logger.Warn("release publishes no signature, relying on checksum", "version", rel.Version.String())
		return nil
	}

	// Signatures are small; a leftover one is fetched again rather than resumed.
	if err := os.Remove(sigPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.IOError(zerr.With(zerr.Wrap(err, "remove stale signature"), "path", sigPath))
	}
	if _, _, err := m.download(ctx, rel.SignatureURL, sigPath, 0, nil); err != nil {
		return zerr.Wrap(err, "download signature")
	}

	if err := checkSignature(m.keyring, archive, sigPath); err != nil {
		return zerr.With(domain.Classify(domain.ErrSignatureInvalid, err), "signature", rel.SignatureURL)
	}
	m.logger.Debug("signature verified", "version", rel.Version.String())
	return nil
}

// checkSignature verifies an armored or binary detached signature.
func checkSignature(keyring openpgp.EntityList, archivePath, sigPath string) error {
	archive, err := os.Open(archivePath)
	if err != nil {
		return zerr.Wrap(err, "open archive")
	}
	defer archive.Close()

	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return zerr.Wrap(err, "read signature")
	}

	_, err = openpgp.CheckArmoredDetachedSignature(keyring, archive, bytes.NewReader(sig), nil)
	if err != nil {
		if _, seekErr := archive.Seek(0, io.SeekStart); seekErr != nil {
			return zerr.Wrap(seekErr, "rewind archive")
		}
		_, err = openpgp.CheckDetachedSignature(keyring, archive, bytes.NewReader(sig), nil)
	}
	if err != nil {
		return zerr.Wrap(err, "verify signature")
	}
	return nil
}

// loadKeyring reads an armored keyring, falling back to the binary format.
func loadKeyring(path string) (openpgp.EntityList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.IOError(zerr.With(zerr.Wrap(err, "read keyring"), "path", path))
	}

	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		keyring, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "parse keyring"), "path", path)
		}
	}
	if len(keyring) == 0 {
		return nil, zerr.With(zerr.New("keyring is empty"), "path", path)
	}
	return keyring, nil
}

// calculateSHA256 calculates the SHA256 checksum of a file
func calculateSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
