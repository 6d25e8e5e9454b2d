// Package credentials manages stored remote authentication secrets. Secret
// material is encrypted before it reaches the store and never returned by
// read operations.
package credentials

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/codefionn/gitspace/internal/logger"
	"github.com/codefionn/gitspace/internal/store"
)

var (
	// ErrCredentialInUse blocks deletion while repositories reference the
	// credential.
	ErrCredentialInUse = errors.New("credential is bound to one or more repositories")
	// ErrInvalidHost rejects hosts carrying scheme, port or path parts.
	ErrInvalidHost = errors.New("host must be a bare lowercase hostname")
	// ErrInvalidKind rejects transport kinds other than https and ssh.
	ErrInvalidKind = errors.New("credential kind must be https or ssh")
)

// Store is the persistence surface the credential service needs.
type Store interface {
	InsertCredential(c *store.Credential) error
	UpdateCredential(c *store.Credential) error
	GetCredential(id string) (*store.Credential, error)
	ListCredentials() ([]*store.Credential, error)
	DeleteCredential(id string) error
	CountReposReferencing(credentialID string) (int, error)
}

// Vault encrypts secret material for storage.
type Vault interface {
	EncryptString(plaintext string) (string, error)
}

// Info is a credential with its secret redacted, for listing.
type Info struct {
	ID        string               `json:"id"`
	Host      string               `json:"host"`
	Kind      store.CredentialKind `json:"kind"`
	Label     *string              `json:"label,omitempty"`
	Username  *string              `json:"username,omitempty"`
	IsDefault bool                 `json:"is_default"`
	CreatedAt int64                `json:"created_at"`
	UpdatedAt int64                `json:"updated_at"`
}

// CreateParams describes a new credential. Secret is the plaintext token or
// private key; it is encrypted before persisting.
type CreateParams struct {
	Host      string
	Kind      store.CredentialKind
	Label     *string
	Username  *string
	Secret    string
	IsDefault bool
}

// Service implements credential lifecycle management.
type Service struct {
	store Store
	vault Vault
	log   *logger.Logger
}

func NewService(st Store, vault Vault) *Service {
	return &Service{
		store: st,
		vault: vault,
		log:   logger.Global().WithPrefix("credentials"),
	}
}

// Create encrypts and stores a new credential. Setting IsDefault demotes any
// previous default for the same host.
func (s *Service) Create(p CreateParams) (*Info, error) {
	host, err := normalizeHost(p.Host)
	if err != nil {
		return nil, err
	}
	if err := validateKind(p.Kind); err != nil {
		return nil, err
	}
	if p.Secret == "" {
		return nil, errors.New("secret must not be empty")
	}

	enc, err := s.vault.EncryptString(p.Secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}
	cred := &store.Credential{
		ID:        uuid.NewString(),
		Host:      host,
		Kind:      p.Kind,
		Label:     p.Label,
		Username:  p.Username,
		SecretEnc: enc,
		IsDefault: p.IsDefault,
	}
	if err := s.store.InsertCredential(cred); err != nil {
		return nil, err
	}
	s.log.Info("stored %s credential %s for %s (default=%t)", cred.Kind, cred.ID, host, cred.IsDefault)
	return redact(cred), nil
}

// UpdateSecret replaces the secret of an existing credential.
func (s *Service) UpdateSecret(id, secret string) error {
	if secret == "" {
		return errors.New("secret must not be empty")
	}
	cred, err := s.store.GetCredential(id)
	if err != nil {
		return err
	}
	enc, err := s.vault.EncryptString(secret)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}
	cred.SecretEnc = enc
	return s.store.UpdateCredential(cred)
}

// SetDefault marks the credential as its host's default, demoting any
// previous one.
func (s *Service) SetDefault(id string) error {
	cred, err := s.store.GetCredential(id)
	if err != nil {
		return err
	}
	cred.IsDefault = true
	return s.store.UpdateCredential(cred)
}

// List returns all credentials with secrets redacted.
func (s *Service) List() ([]*Info, error) {
	creds, err := s.store.ListCredentials()
	if err != nil {
		return nil, err
	}
	out := make([]*Info, 0, len(creds))
	for _, c := range creds {
		out = append(out, redact(c))
	}
	return out, nil
}

// Delete removes a credential. It refuses with ErrCredentialInUse while any
// repository is bound to it.
func (s *Service) Delete(id string) error {
	n, err := s.store.CountReposReferencing(id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w (%d repositories)", ErrCredentialInUse, n)
	}
	if err := s.store.DeleteCredential(id); err != nil {
		return err
	}
	s.log.Info("deleted credential %s", id)
	return nil
}

func redact(c *store.Credential) *Info {
	return &Info{
		ID:        c.ID,
		Host:      c.Host,
		Kind:      c.Kind,
		Label:     c.Label,
		Username:  c.Username,
		IsDefault: c.IsDefault,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// normalizeHost lowercases the host and rejects scheme, port or path parts.
func normalizeHost(host string) (string, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" || strings.ContainsAny(host, "/:@ ") {
		return "", fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	return host, nil
}

func validateKind(kind store.CredentialKind) error {
	switch kind {
	case store.KindHTTPS, store.KindSSH:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
}
