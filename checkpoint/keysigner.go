package checkpoint

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/veraison/go-cose"
)

var ErrKeyNotEC = errors.New("checkpoint: key is not a PEM encoded EC private key")

// KeySigner signs ES256 with a locally held P-256 key.
type KeySigner struct {
	cose.Signer
	key *ecdsa.PrivateKey
	kid string
}

func NewKeySigner(key *ecdsa.PrivateKey, kid string) (*KeySigner, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, err
	}
	return &KeySigner{Signer: signer, key: key, kid: kid}, nil
}

// GenerateKeySigner creates a signer with a fresh key. Heads it signs can
// only be verified for the lifetime of the process unless the public key is
// published.
func GenerateKeySigner(kid string) (*KeySigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewKeySigner(key, kid)
}

// LoadKeySigner reads a SEC 1 or PKCS #8 PEM encoded key from path.
func LoadKeySigner(path, kid string) (*KeySigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrKeyNotEC
	}

	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		parsed, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyNotEC, err)
		}
		var ok bool
		if key, ok = parsed.(*ecdsa.PrivateKey); !ok {
			return nil, ErrKeyNotEC
		}
	}
	return NewKeySigner(key, kid)
}

func (s *KeySigner) PublicKey() (*ecdsa.PublicKey, error) {
	return &s.key.PublicKey, nil
}

func (s *KeySigner) KeyIdentifier() string { return s.kid }
