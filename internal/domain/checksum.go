package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// canonical normalises empty collections so that a DNA that went through a
// JSON round trip hashes identically to the original.
func canonical(d *SystemDNA) *SystemDNA {
	c := d.Clone()
	if c.CoreTraits == nil {
		c.CoreTraits = map[string]any{}
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	if c.Mutations == nil {
		c.Mutations = []MutationRecord{}
	}
	if c.SnapshotIDs == nil {
		c.SnapshotIDs = []string{}
	}
	return c
}

// EncodeDNA serialises DNA into its canonical JSON form. Map keys are
// emitted in sorted order, so equal DNA always yields equal bytes.
func EncodeDNA(d *SystemDNA) (string, error) {
	if d == nil {
		return "", ErrDNANotFound
	}
	b, err := json.Marshal(canonical(d))
	if err != nil {
		return "", fmt.Errorf("encode dna: %w", err)
	}
	return string(b), nil
}

// DecodeDNA parses the canonical JSON form.
func DecodeDNA(data string) (*SystemDNA, error) {
	var d SystemDNA
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, WrapEngineError(ErrDNACorrupt.Code, ErrDNACorrupt.Message, err)
	}
	return canonical(&d), nil
}

// Checksum returns the hex SHA-256 of the canonical encoding.
func Checksum(d *SystemDNA) (string, error) {
	data, err := EncodeDNA(d)
	if err != nil {
		return "", err
	}
	return ChecksumData(data), nil
}

// ChecksumData hashes an already-encoded DNA document.
func ChecksumData(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
