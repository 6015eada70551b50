// Package sha256 derives stable posting identifiers from canonical URLs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ExternalID canonicalizes rawURL and returns its digest, so the same posting
// reached through cosmetically different links maps to one id.
func (h *Hasher) ExternalID(rawURL string) (string, string, error) {
	canonical, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("external id: %w", err)
	}
	id, err := h.Hash([]byte(canonical))
	if err != nil {
		return "", "", err
	}
	return id, canonical, nil
}

var _ crawler.Hasher = (*Hasher)(nil)
