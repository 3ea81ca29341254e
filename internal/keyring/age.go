package keyring

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// Key seals the keyring file. A passphrase wins over an identity file.
type Key struct {
	IdentityFile string
	Passphrase   string
}

// KeyFromEnv builds a key from ANVIL_KEYRING_IDENTITY or
// ANVIL_KEYRING_PASSPHRASE. It returns nil when neither is set.
func KeyFromEnv() *Key {
	if id := os.Getenv("ANVIL_KEYRING_IDENTITY"); id != "" {
		return &Key{IdentityFile: id}
	}
	if pass := os.Getenv("ANVIL_KEYRING_PASSPHRASE"); pass != "" {
		return &Key{Passphrase: pass}
	}
	return nil
}

var errNoKey = errors.New("keyring key needs ANVIL_KEYRING_IDENTITY or ANVIL_KEYRING_PASSPHRASE")

// seal encrypts plaintext into an armored age file.
func (k *Key) seal(plaintext []byte) ([]byte, error) {
	to, _, err := k.pair()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, to...)
	if err != nil {
		return nil, fmt.Errorf("seal keyring: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("seal keyring: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("seal keyring: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("seal keyring: %w", err)
	}
	return buf.Bytes(), nil
}

// open decrypts a keyring file, armored or binary.
func (k *Key) open(sealed []byte) ([]byte, error) {
	_, from, err := k.pair()
	if err != nil {
		return nil, err
	}
	var src io.Reader = bytes.NewReader(sealed)
	if bytes.HasPrefix(bytes.TrimSpace(sealed), []byte(armor.Header)) {
		src = armor.NewReader(src)
	}
	r, err := age.Decrypt(src, from...)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// pair resolves the key into the recipients that seal and the identities
// that open the keyring.
func (k *Key) pair() ([]age.Recipient, []age.Identity, error) {
	if k.Passphrase != "" {
		to, err := age.NewScryptRecipient(k.Passphrase)
		if err != nil {
			return nil, nil, err
		}
		from, err := age.NewScryptIdentity(k.Passphrase)
		if err != nil {
			return nil, nil, err
		}
		return []age.Recipient{to}, []age.Identity{from}, nil
	}
	if k.IdentityFile == "" {
		return nil, nil, errNoKey
	}
	f, err := os.Open(k.IdentityFile)
	if err != nil {
		return nil, nil, fmt.Errorf("keyring identity: %w", err)
	}
	defer f.Close()
	from, err := age.ParseIdentities(f)
	if err != nil {
		return nil, nil, fmt.Errorf("keyring identity %s: %w", k.IdentityFile, err)
	}
	var to []age.Recipient
	for _, id := range from {
		if x, ok := id.(*age.X25519Identity); ok {
			to = append(to, x.Recipient())
		}
	}
	if len(to) == 0 {
		return nil, nil, fmt.Errorf("keyring identity %s holds no X25519 key", k.IdentityFile)
	}
	return to, from, nil
}
