package object

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// HashObject computes the SHA-1 of the envelope "type len\0content",
// git's exact content-addressing scheme. Client-supplied hashes in
// negotiation must equal what this returns for the same content.
func HashObject(objType ObjectType, data []byte) Hash {
	header := fmt.Sprintf("%s %d\x00", objType, len(data))
	h := sha1.New()
	h.Write([]byte(header))
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// HashBytes computes the raw SHA-1 of data as a lowercase hex Hash.
func HashBytes(data []byte) Hash {
	sum := sha1.Sum(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// ValidateHash checks that h is a 40-character hex string.
func ValidateHash(h Hash) error {
	if len(h) != HashHexLen {
		return fmt.Errorf("hash length %d, expected %d", len(h), HashHexLen)
	}
	if _, err := hex.DecodeString(string(h)); err != nil {
		return fmt.Errorf("hash contains non-hex characters: %w", err)
	}
	return nil
}
