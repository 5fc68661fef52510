package deduplication

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"habitat/pkg/models"
)

// Hasher fingerprints an upload by its type and payload. The payload is
// JSON encoded, which orders map keys, so equal payloads hash equally.
type Hasher struct {
	algorithm string
}

func NewHasher(algorithm string) *Hasher {
	if algorithm == "" {
		algorithm = "sha256"
	}
	return &Hasher{algorithm: algorithm}
}

func (h *Hasher) ComputeHash(msg *models.Message) (string, error) {
	payload, err := json.Marshal(msg.Data())
	if err != nil {
		return "", fmt.Errorf("failed to encode message data: %w", err)
	}

	input := append([]byte(msg.Kind().String()+"|"), payload...)

	switch h.algorithm {
	case "md5":
		sum := md5.Sum(input)
		return hex.EncodeToString(sum[:]), nil
	default:
		sum := sha256.Sum256(input)
		return hex.EncodeToString(sum[:]), nil
	}
}
