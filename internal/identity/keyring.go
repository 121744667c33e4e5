package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

var (
	ErrKeyPathRequired = errors.New("identity: key path required")
	ErrNoKey           = errors.New("identity: no key in file")
	ErrNoPrivateKey    = errors.New("identity: file holds no private key")
	ErrKeyLocked       = errors.New("identity: private key is passphrase protected")
	ErrKeyMismatch     = errors.New("identity: public and private key do not match")
)

type Option func(*Keyring)

func WithPassphrase(passphrase string) Option {
	return func(k *Keyring) {
		if passphrase != "" {
			k.passphrase = []byte(passphrase)
		}
	}
}

// Keyring reads an armored OpenPGP key pair from disk. It never writes keys.
type Keyring struct {
	publicPath  string
	privatePath string
	passphrase  []byte

	mu      sync.Mutex
	public  *openpgp.Entity
	private *openpgp.Entity
}

func NewKeyring(publicPath, privatePath string, opts ...Option) *Keyring {
	k := &Keyring{
		publicPath:  strings.TrimSpace(publicPath),
		privatePath: strings.TrimSpace(privatePath),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// ReadPrivateKey loads and, when a passphrase is set, unlocks the private key.
func (k *Keyring) ReadPrivateKey(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entity, err := readEntity(k.privatePath)
	if err != nil {
		return err
	}
	if entity.PrivateKey == nil {
		return fmt.Errorf("%w: %s", ErrNoPrivateKey, k.privatePath)
	}
	if entity.PrivateKey.Encrypted {
		if len(k.passphrase) == 0 {
			return fmt.Errorf("%w: %s", ErrKeyLocked, k.privatePath)
		}
		if err := entity.PrivateKey.Decrypt(k.passphrase); err != nil {
			return fmt.Errorf("identity: unlock %s: %w", k.privatePath, err)
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.private = entity
	return k.checkPairLocked()
}

// ReadPublicKey loads the public key and returns its armored text.
func (k *Keyring) ReadPublicKey(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	entity, err := readEntity(k.publicPath)
	if err != nil {
		return "", err
	}
	armored, err := ArmorPublicKey(entity)
	if err != nil {
		return "", err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.public = entity
	if err := k.checkPairLocked(); err != nil {
		return "", err
	}
	return armored, nil
}

// Fingerprint returns the hex fingerprint of the loaded public key.
func (k *Keyring) Fingerprint() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.public == nil {
		return ""
	}
	return fmt.Sprintf("%X", k.public.PrimaryKey.Fingerprint)
}

func (k *Keyring) checkPairLocked() error {
	if k.public == nil || k.private == nil {
		return nil
	}
	if !bytes.Equal(k.public.PrimaryKey.Fingerprint, k.private.PrimaryKey.Fingerprint) {
		return fmt.Errorf("%w: public=%X private=%X", ErrKeyMismatch,
			k.public.PrimaryKey.Fingerprint, k.private.PrimaryKey.Fingerprint)
	}
	return nil
}

// ArmorPublicKey returns the armored public half of entity.
func ArmorPublicKey(entity *openpgp.Entity) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := entity.Serialize(w); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("identity: serialize public key: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func readEntity(path string) (*openpgp.Entity, error) {
	if path == "" {
		return nil, ErrKeyPathRequired
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("identity: open %s: %w", path, err)
	}
	defer f.Close()

	list, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoKey, path)
	}
	return list[0], nil
}
