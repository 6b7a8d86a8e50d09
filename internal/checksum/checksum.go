// Package checksum computes content fingerprints for memory values.
//
// A fingerprint is the BLAKE3 keyed hash of the value's CBOR Core
// Deterministic encoding (RFC 8949 §4.2): map keys are sorted and
// numbers use their shortest encoding, so equal values always hash
// equally regardless of how they were built.
package checksum

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/rcliao/consensus-memory/internal/model"
)

// domainKey separates value fingerprints from any other BLAKE3 use.
// Changing it invalidates every stored checksum.
var domainKey = [32]byte{
	'c', 'o', 'n', 's', 'e', 'n', 's', 'u', 's', '.', 'v', 'a', 'l', 'u', 'e', 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("checksum: CBOR encoder initialization failed: " + err.Error())
	}
}

// Fingerprint returns the hex-encoded fingerprint of v.
func Fingerprint(v model.Value) (string, error) {
	data, err := encMode.Marshal(v.Any())
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	h, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		return "", fmt.Errorf("init hash: %w", err)
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustFingerprint is Fingerprint for values that are known to encode.
func MustFingerprint(v model.Value) string {
	sum, err := Fingerprint(v)
	if err != nil {
		panic(err)
	}
	return sum
}
