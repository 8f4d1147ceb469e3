// Package hashverify computes and compares content digests of downloaded files.
package hashverify

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const blockSize = 4096

// Verifier checks files on disk against a recorded digest.
type Verifier interface {
	Digest(path string) (string, error)
	Verify(expectedHash, path string) bool
}

// MD5 is the Verifier used for history records.
type MD5 struct{}

// Digest streams the file in fixed-size blocks and returns its hex encoded MD5.
func (MD5) Digest(path string) (string, error) {
	return Digest(path)
}

// Verify reports whether path exists and hashes to expectedHash.
func (MD5) Verify(expectedHash, path string) bool {
	return Verify(expectedHash, path)
}

// Digest streams the file in fixed-size blocks and returns its hex encoded MD5.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec
	buf := make([]byte, blockSize)

	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}

		if err == io.EOF {
			break
		}

		if err != nil {
			return "", fmt.Errorf("failed to read file for hashing: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify never fails: a missing file, a read error or a mismatch all yield false.
func Verify(expectedHash, path string) bool {
	if expectedHash == "" {
		return false
	}

	got, err := Digest(path)
	if err != nil {
		return false
	}

	return got == expectedHash
}
