// Package credential implements the bridge's local credential store
// (spec.md §6): an AES-256-GCM-encrypted JSON file holding bearer tokens
// and OAuth2 material for upstream servers that need them, keyed by an
// arbitrary caller-chosen string. There is no grounding example for an
// encrypted file store in the reference tree; the random-token generation
// here follows the crypto/rand idiom the teacher uses in internal/util.go,
// and the rest follows directly from spec.md's format description (see
// DESIGN.md).
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crabeye/mcp-bridge/internal/bridgeerr"
)

// masterKeyEnvVar overrides the store's master key with a 64-char hex
// string, per spec.md §6. Setting it makes the store read-only with
// respect to the key itself: the bridge never persists or rotates a key
// it did not generate.
const masterKeyEnvVar = "MCP_BRIDGE_MASTER_KEY"

const storeVersion = 1

// CredentialKind tags which shape of secret a Credential carries.
type CredentialKind string

const (
	KindBearer CredentialKind = "bearer"
	KindOAuth2 CredentialKind = "oauth2"
)

// Credential is one stored secret, tagged by kind.
type Credential struct {
	Kind CredentialKind `json:"kind"`

	// Bearer holds the raw token when Kind == KindBearer.
	Bearer string `json:"bearer,omitempty"`

	// OAuth2 holds the passthrough fields when Kind == KindOAuth2.
	OAuth2 *OAuth2Credential `json:"oauth2,omitempty"`
}

// OAuth2Credential is the OAuth2 passthrough shape spec.md §6 names as
// per-server `_bridge.auth` config: the bridge stores it and hands it back
// verbatim, never validating or refreshing it itself.
type OAuth2Credential struct {
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenURL     string `json:"token_url,omitempty"`
}

// fileFormat is the plaintext JSON shape once decrypted, per spec.md §6:
// `{ version: 1, credentials: { key -> credential } }`.
type fileFormat struct {
	Version     int                   `json:"version"`
	Credentials map[string]Credential `json:"credentials"`
}

// Store is the encrypted credential store bound to a single file path and
// master key. Not safe for concurrent read-modify-write (spec.md §5); the
// bridge never calls it concurrently.
type Store struct {
	path        string
	key         [32]byte
	keyProvided bool // true when MCP_BRIDGE_MASTER_KEY overrode the key
}

// Open loads (or prepares to create) the store at path. If
// MCP_BRIDGE_MASTER_KEY is set, it must decode to exactly 32 bytes of hex
// and is used as the AES key; otherwise the hex key stored in a key file
// alongside path is used, generating and persisting one if it is absent.
func Open(path string) (*Store, error) {
	key, provided, err := resolveMasterKey(path)
	if err != nil {
		return nil, &bridgeerr.CredentialError{Op: "resolve master key", Err: err}
	}
	return &Store{path: path, key: key, keyProvided: provided}, nil
}

// resolveMasterKey honours MCP_BRIDGE_MASTER_KEY when set, otherwise reads
// (or generates) a sibling ".key" file next to the store so repeated runs
// can decrypt the same store.
func resolveMasterKey(path string) ([32]byte, bool, error) {
	var key [32]byte

	if hexKey, ok := os.LookupEnv(masterKeyEnvVar); ok {
		decoded, err := hex.DecodeString(hexKey)
		if err != nil || len(decoded) != 32 {
			return key, false, fmt.Errorf("%s must be a 64-character hex string", masterKeyEnvVar)
		}
		copy(key[:], decoded)
		return key, true, nil
	}

	keyPath := path + ".key"
	data, err := os.ReadFile(keyPath)
	if err == nil {
		decoded, err := hex.DecodeString(string(data))
		if err != nil || len(decoded) != 32 {
			return key, false, fmt.Errorf("corrupt key file %s", keyPath)
		}
		copy(key[:], decoded)
		return key, false, nil
	}
	if !os.IsNotExist(err) {
		return key, false, err
	}

	if _, err := rand.Read(key[:]); err != nil {
		return key, false, fmt.Errorf("generate master key: %w", err)
	}
	if err := writeFileAtomic(keyPath, []byte(hex.EncodeToString(key[:])), 0o600); err != nil {
		return key, false, fmt.Errorf("persist master key: %w", err)
	}
	return key, false, nil
}

// Load decrypts and parses the store file. A missing file is treated as an
// empty store, so a fresh install can Set into it without a separate Init
// step.
func (s *Store) Load() (map[string]Credential, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Credential{}, nil
		}
		return nil, &bridgeerr.CredentialError{Op: "read", Err: err}
	}

	plaintext, err := s.decrypt(raw)
	if err != nil {
		return nil, &bridgeerr.CredentialError{Op: "decrypt", Err: err}
	}

	var ff fileFormat
	if err := json.Unmarshal(plaintext, &ff); err != nil {
		return nil, &bridgeerr.CredentialError{Op: "parse", Err: err}
	}
	if ff.Credentials == nil {
		ff.Credentials = map[string]Credential{}
	}
	return ff.Credentials, nil
}

// Get returns one credential by key.
func (s *Store) Get(key string) (Credential, bool, error) {
	creds, err := s.Load()
	if err != nil {
		return Credential{}, false, err
	}
	c, ok := creds[key]
	return c, ok, nil
}

// List returns every stored key, unordered.
func (s *Store) List() ([]string, error) {
	creds, err := s.Load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(creds))
	for k := range creds {
		keys = append(keys, k)
	}
	return keys, nil
}

// Set upserts a credential and persists the store.
func (s *Store) Set(key string, cred Credential) error {
	creds, err := s.Load()
	if err != nil {
		return err
	}
	creds[key] = cred
	return s.save(creds)
}

// Delete removes a credential and persists the store. Deleting an absent
// key is a no-op, not an error.
func (s *Store) Delete(key string) error {
	creds, err := s.Load()
	if err != nil {
		return err
	}
	delete(creds, key)
	return s.save(creds)
}

func (s *Store) save(creds map[string]Credential) error {
	ff := fileFormat{Version: storeVersion, Credentials: creds}
	plaintext, err := json.Marshal(ff)
	if err != nil {
		return &bridgeerr.CredentialError{Op: "encode", Err: err}
	}
	ciphertext, err := s.encrypt(plaintext)
	if err != nil {
		return &bridgeerr.CredentialError{Op: "encrypt", Err: err}
	}
	if err := writeFileAtomic(s.path, ciphertext, 0o600); err != nil {
		return &bridgeerr.CredentialError{Op: "write", Err: err}
	}
	return nil
}

// encrypt seals plaintext with AES-256-GCM, prefixing the output with the
// 12-byte random nonce spec.md §6 calls the IV; the GCM's 16-byte
// authentication tag is appended by cipher.Seal.
func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Store) decrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("credential file is too short to contain a nonce")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// writeFileAtomic writes data to path via a temp file in the same
// directory followed by a rename, per spec.md §6.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
