// Package digest computes and compares content digests of local and remote
// files. The algorithm is fixed to SHA-256 on both sides.
package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/cbout22/fbsync/internal/remotepath"
)

// Algorithm names a digest function as the remote API spells it.
type Algorithm string

// SHA256 is the only algorithm used for comparisons.
const SHA256 Algorithm = "sha256"

// Digest is an algorithm-tagged hex digest.
type Digest struct {
	Algorithm Algorithm
	Hex       string
}

func (d Digest) String() string {
	return string(d.Algorithm) + ":" + d.Hex
}

// IsZero reports whether d holds no digest.
func (d Digest) IsZero() bool {
	return d.Hex == ""
}

// Matches reports whether a and b are the same digest. Comparison is exact
// and case-sensitive.
func Matches(a, b Digest) bool {
	return !a.IsZero() && a.Algorithm == b.Algorithm && a.Hex == b.Hex
}

// Accumulator hashes bytes as they are written, so a download can be
// digested in the same pass that writes it to disk.
type Accumulator struct {
	h hash.Hash
}

// NewAccumulator returns an empty SHA-256 accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{h: sha256.New()}
}

func (a *Accumulator) Write(p []byte) (int, error) {
	return a.h.Write(p)
}

// Sum returns the digest of everything written so far.
func (a *Accumulator) Sum() Digest {
	return Digest{Algorithm: SHA256, Hex: hex.EncodeToString(a.h.Sum(nil))}
}

// Bytes returns the SHA-256 digest of data.
func Bytes(data []byte) Digest {
	sum := sha256.Sum256(data)
	return Digest{Algorithm: SHA256, Hex: hex.EncodeToString(sum[:])}
}

// Local streams the file at path through SHA-256.
func Local(fs afero.Fs, path string) (Digest, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Digest{}, &LocalIOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	acc := NewAccumulator()
	if _, err := io.Copy(acc, f); err != nil {
		return Digest{}, &LocalIOError{Op: "read", Path: path, Err: err}
	}
	return acc.Sum(), nil
}

// ChecksumFetcher is the part of the remote API that reports digests.
type ChecksumFetcher interface {
	Checksum(ctx context.Context, p remotepath.Path, algorithm string) (string, error)
}

// Remote asks the server for the digest of p.
func Remote(ctx context.Context, f ChecksumFetcher, p remotepath.Path) (Digest, error) {
	sum, err := f.Checksum(ctx, p, string(SHA256))
	if err != nil {
		return Digest{}, errors.Wrapf(err, "fetching remote digest of %s", p)
	}
	return Digest{Algorithm: SHA256, Hex: sum}, nil
}

// LocalIOError is a failure reading or writing a local file. It fails the
// file being transferred but never the run.
type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error { return e.Err }

// IsNotExist reports whether err says the local file is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// MismatchError means bytes on disk do not hash to the remote digest.
type MismatchError struct {
	Path string
	Want Digest
	Got  Digest
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("digest mismatch for %s: want %s, got %s", e.Path, e.Want, e.Got)
}

// Retryable marks a mismatch as worth another download attempt.
func (e *MismatchError) Retryable() bool { return true }
