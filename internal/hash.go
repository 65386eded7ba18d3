package internal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

// Fingerprint is a 256-bit content digest.
type Fingerprint [32]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "sha256"
	HashBlake3 HashAlgorithm = "blake3"
)

func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch a := HashAlgorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case HashSHA256, HashBlake3:
		return a, nil
	}
	return "", fmt.Errorf("invalid hash algorithm %q (want sha256 or blake3)", s)
}

const hashBufferSize = 1 << 20

// Hasher streams file content through the configured digest.
type Hasher struct {
	algo HashAlgorithm
}

// NewHasher returns a Hasher for algo, or an error for an unknown algorithm.
func NewHasher(algo HashAlgorithm) (*Hasher, error) {
	if _, err := ParseHashAlgorithm(string(algo)); err != nil {
		return nil, err
	}
	return &Hasher{algo: algo}, nil
}

func (h *Hasher) Algorithm() HashAlgorithm { return h.algo }

func (h *Hasher) New() hash.Hash {
	if h.algo == HashBlake3 {
		return blake3.New(32, nil)
	}
	return sha256.New()
}

// HashFile returns the fingerprint and byte count of path.
func (h *Hasher) HashFile(ctx context.Context, path string) (Fingerprint, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, 0, err
	}
	defer f.Close()

	fp, n, err := h.HashReader(ctx, f)
	if err != nil {
		return Fingerprint{}, n, fmt.Errorf("hash %s: %w", path, err)
	}
	return fp, n, nil
}

func (h *Hasher) HashReader(ctx context.Context, r io.Reader) (Fingerprint, int64, error) {
	d := h.New()
	n, err := io.CopyBuffer(d, &ctxReader{ctx: ctx, r: r}, make([]byte, hashBufferSize))
	if err != nil {
		return Fingerprint{}, n, err
	}
	return Sum(d), n, nil
}

// Sum finalizes d into a Fingerprint.
func Sum(d hash.Hash) Fingerprint {
	var fp Fingerprint
	copy(fp[:], d.Sum(nil))
	return fp
}

// ctxReader stops a long stream once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
