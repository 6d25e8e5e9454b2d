package gitenv

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"

	"github.com/codefionn/gitspace/internal/config"
	"github.com/codefionn/gitspace/internal/proc"
	"github.com/codefionn/gitspace/internal/secrets"
	"github.com/codefionn/gitspace/internal/store"
)

type testEnv struct {
	cfg     *config.Config
	store   *store.Store
	vault   *secrets.Vault
	builder *Builder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dataDir := t.TempDir()
	cfg := &config.Config{DataDir: dataDir}

	s, err := store.Open(cfg.DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	t.Setenv(secrets.MasterKeyEnv, "")
	mk, err := secrets.LoadMasterKey(cfg.MasterKeyPath())
	require.NoError(t, err)
	t.Cleanup(mk.Destroy)
	vault := secrets.NewVault(mk)

	return &testEnv{
		cfg:     cfg,
		store:   s,
		vault:   vault,
		builder: NewBuilder(cfg, s, s, vault),
	}
}

func (te *testEnv) insertCredential(t *testing.T, host string, kind store.CredentialKind, secret string, isDefault bool) *store.Credential {
	t.Helper()
	enc, err := te.vault.EncryptString(secret)
	require.NoError(t, err)
	cred := &store.Credential{
		ID:        uuid.New().String(),
		Host:      host,
		Kind:      kind,
		SecretEnc: enc,
		IsDefault: isDefault,
	}
	require.NoError(t, te.store.InsertCredential(cred))
	return cred
}

func testSSHKeyPEM(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := gossh.MarshalPrivateKey(priv, "test")
	require.NoError(t, err)
	return string(pem.EncodeToMemory(block))
}

func TestBuild_NoCredential(t *testing.T) {
	te := newTestEnv(t)

	env, cleanup, err := te.builder.Build(context.Background(), "https://github.com/org/pub.git", nil)
	require.NoError(t, err)
	defer cleanup()

	assert.NotContains(t, env, "GIT_ASKPASS")
	assert.NotContains(t, env, "GIT_SSH_COMMAND")
	cleanup()
	cleanup() // idempotent
}

func TestBuild_HTTPSArtifactsAndCleanup(t *testing.T) {
	te := newTestEnv(t)
	user := "alice"
	cred := te.insertCredential(t, "github.com", store.KindHTTPS, "tok-secret-123", true)
	cred.Username = &user
	require.NoError(t, te.store.UpdateCredential(cred))

	env, cleanup, err := te.builder.Build(context.Background(), "https://github.com/org/priv.git", nil)
	require.NoError(t, err)

	script := env["GIT_ASKPASS"]
	tokenFile := env["GIT_ASKPASS_TOKEN_FILE"]
	require.NotEmpty(t, script)
	require.NotEmpty(t, tokenFile)
	assert.Equal(t, "alice", env["GIT_ASKPASS_USERNAME"])
	assert.Equal(t, "0", env["GIT_TERMINAL_PROMPT"])

	// Token file is owner-only and holds the decrypted token.
	info, err := os.Stat(tokenFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	data, err := os.ReadFile(tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "tok-secret-123", string(data))

	// The askpass helper answers both prompt shapes correctly.
	res, err := proc.Run(context.Background(), script, []string{"Username for 'https://github.com':"}, proc.Options{
		Env:     map[string]string{"GIT_ASKPASS_USERNAME": "alice", "GIT_ASKPASS_TOKEN_FILE": tokenFile},
		Timeout: proc.ShortTimeout,
	})
	require.NoError(t, err)
	require.True(t, res.Succeeded, res.Stderr)
	assert.Equal(t, "alice\n", res.Stdout)

	res, err = proc.Run(context.Background(), script, []string{"Password for 'https://alice@github.com':"}, proc.Options{
		Env:     map[string]string{"GIT_ASKPASS_USERNAME": "alice", "GIT_ASKPASS_TOKEN_FILE": tokenFile},
		Timeout: proc.ShortTimeout,
	})
	require.NoError(t, err)
	require.True(t, res.Succeeded, res.Stderr)
	assert.Equal(t, "tok-secret-123", res.Stdout)

	// Cleanup removes both artifacts even after a consuming failure.
	cleanup()
	_, err = os.Stat(script)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(tokenFile)
	assert.True(t, os.IsNotExist(err))
	cleanup() // idempotent
}

func TestBuild_DefaultUsernameIsGit(t *testing.T) {
	te := newTestEnv(t)
	te.insertCredential(t, "github.com", store.KindHTTPS, "tok", true)

	env, cleanup, err := te.builder.Build(context.Background(), "https://github.com/org/p.git", nil)
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, "git", env["GIT_ASKPASS_USERNAME"])
}

func TestBuild_SSH(t *testing.T) {
	te := newTestEnv(t)
	te.insertCredential(t, "github.com", store.KindSSH, testSSHKeyPEM(t), true)

	env, cleanup, err := te.builder.Build(context.Background(), "git@github.com:org/priv.git", nil)
	require.NoError(t, err)
	defer cleanup()

	sshCmd := env["GIT_SSH_COMMAND"]
	require.NotEmpty(t, sshCmd)
	assert.Contains(t, sshCmd, "IdentitiesOnly=yes")
	assert.Contains(t, sshCmd, "BatchMode=yes")
	assert.Contains(t, sshCmd, "StrictHostKeyChecking=accept-new")
	assert.Contains(t, sshCmd, te.cfg.KnownHostsPath())
	assert.Equal(t, "0", env["GIT_TERMINAL_PROMPT"])

	// The referenced key file exists with owner-only permissions.
	fields := strings.Fields(sshCmd)
	var keyPath string
	for i, f := range fields {
		if f == "-i" && i+1 < len(fields) {
			keyPath = fields[i+1]
		}
	}
	require.NotEmpty(t, keyPath)
	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cleanup()
	_, err = os.Stat(keyPath)
	assert.True(t, os.IsNotExist(err))
}

func TestBuild_SSHRejectsGarbageKeyWithoutFiles(t *testing.T) {
	te := newTestEnv(t)
	te.insertCredential(t, "github.com", store.KindSSH, "not a private key", true)

	_, _, err := te.builder.Build(context.Background(), "git@github.com:org/p.git", nil)
	require.ErrorIs(t, err, ErrInvalidSSHKey)

	// Nothing may be left in the scratch directory.
	entries, readErr := os.ReadDir(te.cfg.TmpDir())
	if readErr == nil {
		assert.Empty(t, entries)
	}
}

func TestBuild_KindMismatchNoFallback(t *testing.T) {
	te := newTestEnv(t)
	// Only an https default exists for the host; an ssh URL must resolve to
	// no credential rather than leak the token.
	te.insertCredential(t, "github.com", store.KindHTTPS, "tok", true)

	env, cleanup, err := te.builder.Build(context.Background(), "ssh://git@github.com/org/p.git", nil)
	require.NoError(t, err)
	defer cleanup()
	assert.NotContains(t, env, "GIT_ASKPASS")
	assert.NotContains(t, env, "GIT_SSH_COMMAND")
}

func TestBuild_ExplicitBindingHasNoFallback(t *testing.T) {
	te := newTestEnv(t)
	te.insertCredential(t, "github.com", store.KindHTTPS, "tok", true)

	missing := uuid.New().String()
	_, _, err := te.builder.Build(context.Background(), "https://github.com/org/p.git", &missing)
	require.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestBuild_ExplicitBindingWinsOverDefault(t *testing.T) {
	te := newTestEnv(t)
	te.insertCredential(t, "github.com", store.KindHTTPS, "default-token", true)
	bound := te.insertCredential(t, "github.com", store.KindHTTPS, "bound-token", false)

	env, cleanup, err := te.builder.Build(context.Background(), "https://github.com/org/p.git", &bound.ID)
	require.NoError(t, err)
	defer cleanup()

	data, err := os.ReadFile(env["GIT_ASKPASS_TOKEN_FILE"])
	require.NoError(t, err)
	assert.Equal(t, "bound-token", string(data))
}

func TestBuild_NetworkSettings(t *testing.T) {
	te := newTestEnv(t)
	require.NoError(t, te.store.SetJSON(NetworkSettingsKey, NetworkSettings{
		HTTPProxy:  "http://proxy:3128",
		HTTPSProxy: "http://proxy:3128",
		NoProxy:    "localhost,.internal",
		CACertPEM:  "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n",
	}))

	env, cleanup, err := te.builder.Build(context.Background(), "https://github.com/org/pub.git", nil)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, "http://proxy:3128", env["HTTPS_PROXY"])
	assert.Equal(t, "localhost,.internal", env["no_proxy"])
	assert.Equal(t, te.cfg.CACertPath(), env["GIT_SSL_CAINFO"])
	assert.Equal(t, te.cfg.CACertPath(), env["SSL_CERT_FILE"])

	data, err := os.ReadFile(te.cfg.CACertPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "BEGIN CERTIFICATE")
}

func TestGenerateKeypair(t *testing.T) {
	if _, err := os.Stat("/usr/bin/ssh-keygen"); err != nil {
		if _, err := os.Stat("/usr/local/bin/ssh-keygen"); err != nil {
			t.Skip("ssh-keygen not installed")
		}
	}
	te := newTestEnv(t)

	kp, err := te.builder.GenerateKeypair(context.Background(), "deploy@gitspace")
	require.NoError(t, err)
	assert.Contains(t, kp.PrivateKeyPEM, "OPENSSH PRIVATE KEY")
	assert.True(t, strings.HasPrefix(kp.PublicKey, "ssh-ed25519 "))

	// Scratch files are removed.
	entries, err := os.ReadDir(filepath.Join(te.cfg.TmpDir()))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
