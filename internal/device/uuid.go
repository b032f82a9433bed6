package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	sigBasePrefix = "0000"
	sigBaseSuffix = "00001000800000805f9b34fb"
)

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Strips a 0x prefix if present (e.g., "0x2902" -> "2902").
// For full 128-bit UUIDs in Bluetooth SIG base format (0000xxxx-0000-1000-8000-00805f9b34fb),
// extracts the 16-bit short form (xxxx).
func NormalizeUUID(u string) string {
	s := strings.ToLower(strings.TrimSpace(u))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, sigBasePrefix) && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format.
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns normalized UUID strings or an error.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, u := range uuids {
		if u == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(u)
		if !isHex(normalized) || (len(normalized) != 4 && len(normalized) != 8 && len(normalized) != 32) {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, u)
		}
		result = append(result, normalized)
	}
	return result, nil
}

// UUIDFromBytes decodes a 16-byte big-endian UUID, as the native engine lays it
// out in ioctl buffers, into its normalized string form.
func UUIDFromBytes(b []byte) (string, error) {
	if len(b) < 16 {
		return "", fmt.Errorf("%w: uuid needs 16 bytes, got %d", ErrInvalidArguments, len(b))
	}
	u, err := uuid.FromBytes(b[:16])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return NormalizeUUID(u.String()), nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
