// Package filehash computes the content hash used to recognise duplicate sources.
package filehash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// File returns the hex BLAKE2b-256 digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for hashing failed: %w", err)
	}
	defer f.Close()
	return Reader(f)
}

func Reader(r io.Reader) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("init blake2b failed: %w", err)
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content failed: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
