package crossforge

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

// KeyringEntry represents a trusted public key in the keyring file.
type KeyringEntry struct {
	ID  string `json:"id"`
	Pub string `json:"pub"` // Hex encoded Ed25519 public key
}

// Verifier checks detached Ed25519 signatures against the trust keyring.
// A signature that simply does not match is a normal, expected result, not
// an error; errors are reserved for unreadable files and malformed keys.
type Verifier struct {
	keys []ed25519.PublicKey
	ids  []string
}

// EnsureKeyring makes sure the keyring file exists, fetching it once from the
// configured URL when missing. The cached file is reused on later runs.
func EnsureKeyring(cfg *Config, fetcher *Fetcher) error {
	if _, err := os.Stat(cfg.KeyringPath); err == nil {
		debugf("Reusing cached keyring: %s\n", cfg.KeyringPath)
		return nil
	}
	if cfg.KeyringURL == "" {
		return fmt.Errorf("keyring %s missing and no keyring URL configured", cfg.KeyringPath)
	}
	colArrow.Print("-> ")
	colSuccess.Println("Fetching trust keyring")
	if err := fetcher.downloadFile(cfg.KeyringURL, cfg.KeyringPath); err != nil {
		return fmt.Errorf("failed to fetch keyring: %w", err)
	}
	return nil
}

// LoadKeyring parses the keyring file into a Verifier. Entries with invalid
// hex or the wrong key size are rejected.
func LoadKeyring(path string) (*Verifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring %s: %w", path, err)
	}

	var entries []KeyringEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse keyring: %w", err)
	}

	v := &Verifier{}
	for _, entry := range entries {
		raw, err := hex.DecodeString(strings.TrimSpace(entry.Pub))
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid public key %q in keyring (expected %d hex bytes)",
				entry.ID, ed25519.PublicKeySize)
		}
		v.keys = append(v.keys, ed25519.PublicKey(raw))
		v.ids = append(v.ids, entry.ID)
	}
	if len(v.keys) == 0 {
		return nil, fmt.Errorf("keyring %s contains no keys", path)
	}
	return v, nil
}

// Verify checks filePath against the hex-encoded detached signature in
// sigPath. Any key in the keyring may have produced the signature.
func (v *Verifier) Verify(filePath, sigPath string) (bool, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	sigData, err := os.ReadFile(sigPath)
	if err != nil {
		return false, fmt.Errorf("failed to read signature %s: %w", sigPath, err)
	}

	sig, err := hex.DecodeString(strings.TrimSpace(string(sigData)))
	if err != nil || len(sig) != ed25519.SignatureSize {
		// A garbled signature file is a mismatch, not an internal error.
		debugf("malformed signature in %s\n", sigPath)
		return false, nil
	}

	for i, key := range v.keys {
		if ed25519.Verify(key, data, sig) {
			debugf("signature matched key %s\n", v.ids[i])
			return true, nil
		}
	}
	return false, nil
}

// hashFile returns the hex BLAKE3 sum of a file.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// hashString returns the hex BLAKE3 sum of a string.
func hashString(s string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum(nil))
}
