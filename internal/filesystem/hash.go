package filesystem

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"

	"ftsession/internal/config"
	"ftsession/internal/errors"
)

// HashAlgorithm names a payload digest
type HashAlgorithm string

const (
	HashMD5     HashAlgorithm = "md5"
	HashSHA256  HashAlgorithm = "sha256"
	HashBLAKE2b HashAlgorithm = "blake2b"
)

// NewHasher returns a fresh hash for the algorithm
func NewHasher(algorithm HashAlgorithm) (hash.Hash, error) {
	switch algorithm {
	case HashMD5:
		return md5.New(), nil
	case HashSHA256:
		return sha256.New(), nil
	case HashBLAKE2b:
		return blake2b.New256(nil)
	default:
		return nil, errors.NewValidationError("hash_algorithm", algorithm, "unsupported algorithm")
	}
}

// CalculateHash digests everything r yields
func CalculateHash(r io.Reader, algorithm HashAlgorithm) (string, error) {
	h, err := NewHasher(algorithm)
	if err != nil {
		return "", err
	}

	buffer := make([]byte, config.SendBufferSize)
	if _, err := io.CopyBuffer(h, r, buffer); err != nil {
		return "", errors.NewFileSystemError("read_hash", "", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestBytes digests an in-memory payload
func DigestBytes(data []byte, algorithm HashAlgorithm) (string, error) {
	return CalculateHash(bytes.NewReader(data), algorithm)
}

// CalculateFileHashWithAlgorithm hashes a whole file from its start
func CalculateFileHashWithAlgorithm(file *os.File, algorithm HashAlgorithm) (string, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", errors.NewFileSystemError("seek", file.Name(), err)
	}

	digest, err := CalculateHash(file, algorithm)
	if err != nil {
		if fsErr, ok := err.(*errors.FileSystemError); ok {
			fsErr.Path = file.Name()
		}
		return "", err
	}
	return digest, nil
}

// VerifyFileDigest re-reads path from disk and checks it against want
func VerifyFileDigest(path string, algorithm HashAlgorithm, want string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.NewFileSystemError("open", path, err)
	}
	defer file.Close()

	got, err := CalculateFileHashWithAlgorithm(file, algorithm)
	if err != nil {
		return err
	}
	if got != want {
		return errors.NewFileSystemError("verify", path,
			fmt.Errorf("%s digest mismatch: expected %s, got %s", algorithm, want, got))
	}
	return nil
}
