package secrets

// Vault encrypts and decrypts credential secrets under the process master
// key without handing the raw key to callers.
type Vault struct {
	master *MasterKey
}

// NewVault wraps a loaded master key.
func NewVault(master *MasterKey) *Vault {
	return &Vault{master: master}
}

// EncryptString seals a secret for storage.
func (v *Vault) EncryptString(plaintext string) (string, error) {
	var envelope string
	err := v.master.WithBytes(func(key []byte) error {
		var err error
		envelope, err = Encrypt(key, []byte(plaintext))
		return err
	})
	return envelope, err
}

// DecryptString opens a stored secret envelope.
func (v *Vault) DecryptString(envelope string) (string, error) {
	var plaintext []byte
	err := v.master.WithBytes(func(key []byte) error {
		var err error
		plaintext, err = Decrypt(key, envelope)
		return err
	})
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Fingerprint exposes the master key fingerprint for operator visibility.
func (v *Vault) Fingerprint() string { return v.master.Fingerprint() }

// Provenance exposes where the master key came from.
func (v *Vault) Provenance() Provenance { return v.master.Provenance() }
