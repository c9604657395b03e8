package delta

import (
	"encoding/hex"
	"io"

	"golang.org/x/crypto/blake2b"
)

// HashReader computes the content digest used for delta dedup: a stable
// hex string from a cryptographically strong hash, so two files with
// identical contents collide into the same blob key regardless of which
// backup first uploaded them.
func HashReader(r io.Reader) (digest string, length int64, err error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", 0, err
	}

	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}
