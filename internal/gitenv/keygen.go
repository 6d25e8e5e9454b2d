package gitenv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/codefionn/gitspace/internal/proc"
)

// Keypair is a freshly generated SSH deploy key. The private key is meant to
// be encrypted into a credential record immediately; the public key is shown
// to the user for registration with the Git host.
type Keypair struct {
	PrivateKeyPEM string
	PublicKey     string
}

// GenerateKeypair mints an ed25519 keypair via ssh-keygen with no
// passphrase. The key files only ever exist in the scratch directory and are
// removed before returning.
func (b *Builder) GenerateKeypair(ctx context.Context, comment string) (*Keypair, error) {
	tmpDir := b.cfg.TmpDir()
	if err := os.MkdirAll(tmpDir, 0700); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	keyPath := filepath.Join(tmpDir, fmt.Sprintf("keygen-%s", uuid.New().String()[:8]))
	pubPath := keyPath + ".pub"
	defer func() {
		os.Remove(keyPath)
		os.Remove(pubPath)
	}()

	if comment == "" {
		comment = "gitspace"
	}
	res, err := proc.Run(ctx, "ssh-keygen", []string{
		"-t", "ed25519",
		"-N", "",
		"-C", comment,
		"-f", keyPath,
	}, proc.Options{Timeout: proc.ShortTimeout})
	if err != nil {
		return nil, err
	}
	if !res.Succeeded {
		return nil, fmt.Errorf("ssh-keygen failed: %s", res.Output())
	}

	priv, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read generated key: %w", err)
	}
	pub, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("read generated public key: %w", err)
	}

	return &Keypair{
		PrivateKeyPEM: string(priv),
		PublicKey:     strings.TrimSpace(string(pub)),
	}, nil
}
