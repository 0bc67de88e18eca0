package checkpoint

import (
	"crypto/ecdsa"
	"crypto/rand"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"
	dtcose "github.com/datatrails/go-datatrails-common/cose"
	"github.com/veraison/go-cose"
)

// IdentifiableCoseSigner is a cose signer that can also say which key it
// signs with.
type IdentifiableCoseSigner interface {
	cose.Signer
	PublicKey() (*ecdsa.PublicKey, error)
	KeyIdentifier() string
}

// Signer produces COSE Sign1 messages over tree heads.
type Signer struct {
	issuer    string
	cborCodec dtcbor.CBORCodec
}

func NewSigner(issuer string, cborCodec dtcbor.CBORCodec) Signer {
	return Signer{
		issuer:    issuer,
		cborCodec: cborCodec,
	}
}

// Sign1 signs head on behalf of subject, normally the tree id. The returned
// message has the root removed from its payload.
func (s Signer) Sign1(coseSigner IdentifiableCoseSigner, subject string, head TreeHead, external []byte) ([]byte, error) {
	publicKey, err := coseSigner.PublicKey()
	if err != nil {
		return nil, err
	}

	payload, err := s.cborCodec.MarshalCBOR(head)
	if err != nil {
		return nil, err
	}

	msg := cose.Sign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: coseSigner.Algorithm(),
				cose.HeaderLabelKeyID:     []byte(coseSigner.KeyIdentifier()),
				dtcose.HeaderLabelCWTClaims: dtcose.NewCNFClaim(
					s.issuer, subject, coseSigner.KeyIdentifier(), coseSigner.Algorithm(), *publicKey),
			},
		},
		Payload: payload,
	}
	if err = msg.Sign(rand.Reader, external, coseSigner); err != nil {
		return nil, err
	}

	// Detach the root so verifiers are forced to obtain it from the tree.
	head.Root = nil
	msg.Payload, err = s.cborCodec.MarshalCBOR(head)
	if err != nil {
		return nil, err
	}
	return msg.MarshalCBOR()
}
