package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codefionn/gitspace/internal/logger"
	"github.com/codefionn/gitspace/internal/securemem"
)

// MasterKeyEnv is the environment variable consulted first when loading the
// master key. Accepts hex, base64 or base64url decoding to exactly 32 bytes.
const MasterKeyEnv = "CREDENTIAL_MASTER_KEY"

// Provenance describes where the master key came from.
type Provenance string

const (
	ProvenanceEnv       Provenance = "env"
	ProvenanceFile      Provenance = "file"
	ProvenanceGenerated Provenance = "generated"
)

type keyFile struct {
	KeyB64    string `json:"keyB64"`
	CreatedAt int64  `json:"createdAt"`
}

// MasterKey is the loaded credential master key. The raw bytes live in
// protected memory; only the provenance and a hash-prefix fingerprint are
// exposed for operator visibility.
type MasterKey struct {
	key         *securemem.Key
	provenance  Provenance
	fingerprint string
}

// Provenance reports where the key was loaded from.
func (m *MasterKey) Provenance() Provenance { return m.provenance }

// Fingerprint returns a short sha256-prefix identifier for the key. Never
// the key itself.
func (m *MasterKey) Fingerprint() string { return m.fingerprint }

// WithBytes exposes the raw key to fn via a transient wiped copy.
func (m *MasterKey) WithBytes(fn func([]byte) error) error { return m.key.WithBytes(fn) }

// Destroy wipes the key from memory.
func (m *MasterKey) Destroy() { m.key.Destroy() }

// LoadMasterKey resolves the master key with the precedence: MasterKeyEnv
// environment variable, then a previously generated key persisted at
// keyPath, then a freshly generated key persisted there for future runs.
func LoadMasterKey(keyPath string) (*MasterKey, error) {
	if raw := strings.TrimSpace(os.Getenv(MasterKeyEnv)); raw != "" {
		key, err := decodeKeyMaterial(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", MasterKeyEnv, err)
		}
		return newMasterKey(key, ProvenanceEnv), nil
	}

	if data, err := os.ReadFile(keyPath); err == nil {
		var kf keyFile
		if err := json.Unmarshal(data, &kf); err != nil {
			return nil, fmt.Errorf("parse master key file %s: %w", keyPath, err)
		}
		key, err := base64.StdEncoding.DecodeString(kf.KeyB64)
		if err != nil {
			return nil, fmt.Errorf("decode master key file %s: %w", keyPath, err)
		}
		if len(key) != MasterKeyLen {
			return nil, fmt.Errorf("master key file %s: %w", keyPath, ErrInvalidKeyLength)
		}
		return newMasterKey(key, ProvenanceFile), nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read master key file %s: %w", keyPath, err)
	}

	key := make([]byte, MasterKeyLen)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	if err := persistKey(keyPath, key); err != nil {
		return nil, err
	}
	logger.Info("generated new credential master key at %s", keyPath)
	return newMasterKey(key, ProvenanceGenerated), nil
}

func newMasterKey(key []byte, prov Provenance) *MasterKey {
	sum := sha256.Sum256(key)
	mk := &MasterKey{
		key:         securemem.NewKey(key), // wipes the input slice
		provenance:  prov,
		fingerprint: hex.EncodeToString(sum[:])[:12],
	}
	return mk
}

// decodeKeyMaterial accepts hex, base64 or base64url encodings and validates
// the result decodes to exactly 32 bytes.
func decodeKeyMaterial(raw string) ([]byte, error) {
	decoders := []func(string) ([]byte, error){
		hex.DecodeString,
		base64.StdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
	}
	for _, decode := range decoders {
		key, err := decode(raw)
		if err == nil && len(key) == MasterKeyLen {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: value does not decode to 32 bytes as hex, base64 or base64url", ErrInvalidKeyLength)
}

func persistKey(keyPath string, key []byte) error {
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	data, err := json.Marshal(keyFile{
		KeyB64:    base64.StdEncoding.EncodeToString(key),
		CreatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal master key file: %w", err)
	}
	if err := os.WriteFile(keyPath, data, 0600); err != nil {
		return fmt.Errorf("write master key file %s: %w", keyPath, err)
	}
	return nil
}
