// Package gitenv materializes the transient environment used to authenticate
// outbound Git transport: an askpass helper plus token file for HTTPS, or a
// private key file plus custom GIT_SSH_COMMAND for SSH, together with proxy
// and CA settings. Every build returns a cleanup closure that removes the
// temp files; callers must run it on every exit path.
package gitenv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	gossh "golang.org/x/crypto/ssh"

	"github.com/codefionn/gitspace/internal/config"
	"github.com/codefionn/gitspace/internal/logger"
	"github.com/codefionn/gitspace/internal/secrets"
	"github.com/codefionn/gitspace/internal/store"
)

// NetworkSettingsKey is the settings-store document consulted for proxy and
// CA configuration.
const NetworkSettingsKey = "network"

// NetworkSettings is the persisted network settings document.
type NetworkSettings struct {
	HTTPProxy  string `json:"httpProxy"`
	HTTPSProxy string `json:"httpsProxy"`
	NoProxy    string `json:"noProxy"`
	CACertPEM  string `json:"caCertPem"`
}

var (
	// ErrCredentialNotFound is returned when an explicitly bound credential
	// id does not resolve. No substitute identity is picked in that case.
	ErrCredentialNotFound = errors.New("bound credential not found")
	// ErrInvalidSSHKey is returned when a decrypted ssh secret is not a
	// parseable private key. Nothing is written to disk in that case.
	ErrInvalidSSHKey = errors.New("credential secret is not a valid ssh private key")
)

// Cleanup removes the temp files created for one environment build. It is
// idempotent and safe to call when no files were created.
type Cleanup func()

// Settings is the narrow settings access the builder needs.
type Settings interface {
	GetJSON(key string) (*store.SettingsDoc, error)
}

// Credentials is the narrow credential access the builder needs.
type Credentials interface {
	GetCredential(id string) (*store.Credential, error)
	PickCredentialForHost(host string, preferredKind store.CredentialKind) (*store.Credential, error)
}

// Builder constructs per-operation Git environments.
type Builder struct {
	cfg   *config.Config
	creds Credentials
	sets  Settings
	vault *secrets.Vault
	log   *logger.Logger
}

// NewBuilder wires a builder against the store and vault.
func NewBuilder(cfg *config.Config, creds Credentials, sets Settings, vault *secrets.Vault) *Builder {
	return &Builder{
		cfg:   cfg,
		creds: creds,
		sets:  sets,
		vault: vault,
		log:   logger.Global().WithPrefix("gitenv"),
	}
}

// Build resolves the credential for repoURL (explicit binding first, then
// host+kind default) and returns the environment map plus a cleanup closure.
// When no credential resolves, the base environment (proxy/CA only) is
// returned with a no-op cleanup.
func (b *Builder) Build(ctx context.Context, repoURL string, credentialID *string) (map[string]string, Cleanup, error) {
	env, err := b.baseEnv()
	if err != nil {
		return nil, nil, err
	}

	cred, err := b.resolveCredential(repoURL, credentialID)
	if err != nil {
		return nil, nil, err
	}
	if cred == nil {
		return env, func() {}, nil
	}

	secret, err := b.vault.DecryptString(cred.SecretEnc)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt credential %s: %w", cred.ID, err)
	}

	switch cred.Kind {
	case store.KindHTTPS:
		return b.buildHTTPS(env, cred, secret)
	case store.KindSSH:
		return b.buildSSH(env, cred, secret)
	default:
		return nil, nil, fmt.Errorf("unknown credential kind %q", cred.Kind)
	}
}

// resolveCredential applies the binding rules: an explicit binding is used
// as-is and failure to resolve it is an error; otherwise the host default
// matching the URL's inferred transport kind is picked, with no cross-kind
// fallback. A nil return with nil error means "no credential".
func (b *Builder) resolveCredential(repoURL string, credentialID *string) (*store.Credential, error) {
	if credentialID != nil && *credentialID != "" {
		cred, err := b.creds.GetCredential(*credentialID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrCredentialNotFound, *credentialID)
			}
			return nil, err
		}
		return cred, nil
	}

	remote, err := ParseRemote(repoURL)
	if err != nil {
		// Unknown URL shape: proceed without credentials rather than
		// failing a possibly public fetch.
		b.log.Debug("could not infer remote from %q: %v", repoURL, err)
		return nil, nil
	}
	cred, err := b.creds.PickCredentialForHost(remote.Host, remote.Kind)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return cred, nil
}

// baseEnv builds the proxy/CA environment shared by all Git operations.
func (b *Builder) baseEnv() (map[string]string, error) {
	env := make(map[string]string)

	ns, err := b.networkSettings()
	if err != nil {
		return nil, err
	}
	if ns == nil {
		return env, nil
	}

	if ns.HTTPProxy != "" {
		env["http_proxy"] = ns.HTTPProxy
		env["HTTP_PROXY"] = ns.HTTPProxy
	}
	if ns.HTTPSProxy != "" {
		env["https_proxy"] = ns.HTTPSProxy
		env["HTTPS_PROXY"] = ns.HTTPSProxy
	}
	if ns.NoProxy != "" {
		env["no_proxy"] = ns.NoProxy
		env["NO_PROXY"] = ns.NoProxy
	}
	if strings.TrimSpace(ns.CACertPEM) != "" {
		caPath := b.cfg.CACertPath()
		if err := os.MkdirAll(filepath.Dir(caPath), 0755); err != nil {
			return nil, fmt.Errorf("create certs directory: %w", err)
		}
		if err := os.WriteFile(caPath, []byte(ns.CACertPEM), 0644); err != nil {
			return nil, fmt.Errorf("materialize ca cert: %w", err)
		}
		env["GIT_SSL_CAINFO"] = caPath
		env["SSL_CERT_FILE"] = caPath
	}
	return env, nil
}

func (b *Builder) networkSettings() (*NetworkSettings, error) {
	doc, err := b.sets.GetJSON(NetworkSettingsKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read network settings: %w", err)
	}
	var ns NetworkSettings
	if err := json.Unmarshal(doc.Value, &ns); err != nil {
		return nil, fmt.Errorf("parse network settings: %w", err)
	}
	return &ns, nil
}

// askpassScript answers git's credential prompts: the username when asked
// for one, otherwise the token streamed from a restricted-permission file.
// The token is never passed as a command-line argument, which would leak it
// into the process list.
const askpassScript = `#!/bin/sh
case "$1" in
	[Uu]sername*) printf '%s\n' "$GIT_ASKPASS_USERNAME" ;;
	*) cat "$GIT_ASKPASS_TOKEN_FILE" ;;
esac
`

func (b *Builder) buildHTTPS(env map[string]string, cred *store.Credential, token string) (map[string]string, Cleanup, error) {
	opID := uuid.New().String()[:8]
	tmpDir := b.cfg.TmpDir()
	if err := os.MkdirAll(tmpDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create scratch directory: %w", err)
	}

	scriptPath := filepath.Join(tmpDir, fmt.Sprintf("askpass-%s-%s.sh", cred.ID, opID))
	tokenPath := filepath.Join(tmpDir, fmt.Sprintf("askpass-token-%s-%s", cred.ID, opID))
	cleanup := newCleanup(b.log, scriptPath, tokenPath)

	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("write askpass token: %w", err)
	}
	if err := os.WriteFile(scriptPath, []byte(askpassScript), 0700); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("write askpass script: %w", err)
	}

	username := "git"
	if cred.Username != nil && *cred.Username != "" {
		username = *cred.Username
	}

	env["GIT_ASKPASS"] = scriptPath
	env["GIT_ASKPASS_USERNAME"] = username
	env["GIT_ASKPASS_TOKEN_FILE"] = tokenPath
	env["GIT_TERMINAL_PROMPT"] = "0"
	return env, cleanup, nil
}

func (b *Builder) buildSSH(env map[string]string, cred *store.Credential, key string) (map[string]string, Cleanup, error) {
	// Validate before anything touches the disk.
	if _, err := gossh.ParsePrivateKey([]byte(key)); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSSHKey, err)
	}

	opID := uuid.New().String()[:8]
	tmpDir := b.cfg.TmpDir()
	if err := os.MkdirAll(tmpDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create scratch directory: %w", err)
	}
	knownHosts := b.cfg.KnownHostsPath()
	if err := os.MkdirAll(filepath.Dir(knownHosts), 0700); err != nil {
		return nil, nil, fmt.Errorf("create ssh directory: %w", err)
	}

	keyPath := filepath.Join(tmpDir, fmt.Sprintf("key-%s-%s", cred.ID, opID))
	cleanup := newCleanup(b.log, keyPath)

	// ssh requires a trailing newline on PEM keys.
	if !strings.HasSuffix(key, "\n") {
		key += "\n"
	}
	if err := os.WriteFile(keyPath, []byte(key), 0600); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("write ssh key: %w", err)
	}

	// accept-new records unseen hosts on first contact and still verifies
	// known ones; BatchMode guarantees no interactive prompt can block a
	// background sync.
	env["GIT_SSH_COMMAND"] = strings.Join([]string{
		"ssh",
		"-i", keyPath,
		"-o", "IdentitiesOnly=yes",
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("UserKnownHostsFile=%s", knownHosts),
		"-o", "StrictHostKeyChecking=accept-new",
	}, " ")
	env["GIT_TERMINAL_PROMPT"] = "0"
	return env, cleanup, nil
}

// newCleanup returns an idempotent closure deleting the given paths.
func newCleanup(log *logger.Logger, paths ...string) Cleanup {
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, p := range paths {
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					log.Warn("failed to remove credential temp file %s: %v", p, err)
				}
			}
		})
	}
}
