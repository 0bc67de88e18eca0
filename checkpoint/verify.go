package checkpoint

import (
	"crypto"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"
	dtcose "github.com/datatrails/go-datatrails-common/cose"
	"github.com/veraison/go-cose"
)

// PublicKeyProvider supplies the key and algorithm to verify with.
type PublicKeyProvider interface {
	PublicKey() (crypto.PublicKey, cose.Algorithm, error)
}

// Decode returns the signed message and the head it carries. The head is not
// verified and has no root.
func Decode(codec dtcbor.CBORCodec, msg []byte) (*dtcose.CoseSign1Message, TreeHead, error) {
	signed, err := dtcose.NewCoseSign1MessageFromCBOR(
		msg, dtcose.WithDecOptions(dtcbor.NewDeterministicDecOpts()))
	if err != nil {
		return nil, TreeHead{}, err
	}

	var unverified TreeHead
	if err = codec.UnmarshalInto(signed.Payload, &unverified); err != nil {
		return nil, TreeHead{}, err
	}
	return signed, unverified, nil
}

// Verify re-encodes head into the signed message and checks the signature.
//
// Verification of a signed head is a 3 step process:
//  1. Use Decode to obtain the head. It will not verify as the root was
//     removed after signing.
//  2. Recover the root the tree had at head.SequenceNumber.
//  3. Attach it with WithRoot and call Verify.
func Verify(
	codec dtcbor.CBORCodec, keyProvider PublicKeyProvider, signed *dtcose.CoseSign1Message,
	head TreeHead, external []byte,
) error {
	if len(head.Root) == 0 {
		return ErrRootDetached
	}
	var err error
	signed.Payload, err = codec.MarshalCBOR(head)
	if err != nil {
		return err
	}
	return signed.VerifyWithProvider(keyProvider, external)
}

// KeyProvider supplies a pinned public key, taking the algorithm from the
// message.
type KeyProvider struct {
	signed    *dtcose.CoseSign1Message
	publicKey crypto.PublicKey
}

func NewKeyProvider(signed *dtcose.CoseSign1Message, publicKey crypto.PublicKey) *KeyProvider {
	return &KeyProvider{signed: signed, publicKey: publicKey}
}

func (p *KeyProvider) PublicKey() (crypto.PublicKey, cose.Algorithm, error) {
	alg, err := p.signed.Headers.Protected.Algorithm()
	if err != nil {
		return nil, cose.Algorithm(0), err
	}
	return p.publicKey, alg, nil
}

// NewClaimsKeyProvider reads the key from the CWT claims embedded by Sign1.
func NewClaimsKeyProvider(signed *dtcose.CoseSign1Message) PublicKeyProvider {
	return dtcose.NewCWTPublicKeyProvider(signed)
}
