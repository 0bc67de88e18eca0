package checkpoint

import (
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forestrie/go-merkleroll/cmt"
)

func TestSigner_Sign1(t *testing.T) {

	logger.New("TEST")

	tests := []struct {
		name     string
		issuer   string
		kid      string
		subject  string
		head     TreeHead
		external []byte
	}{
		{
			name:    "common case P-256 & ES256",
			issuer:  "synsation.org",
			kid:     "roll attestation key 1",
			subject: "tree-1",
			head: TreeHead{
				SequenceNumber: 1,
				Root:           []byte{1},
				Timestamp:      1234,
				LeafCount:      1,
				Depth:          3,
				MaxBufferSize:  8,
			},
		},
		{
			name:     "with external aad",
			issuer:   "synsation.org",
			kid:      "roll attestation key 2",
			subject:  "tree-2",
			head:     TreeHead{SequenceNumber: 9, Root: []byte{9, 9}, Depth: 14, MaxBufferSize: 64},
			external: []byte("bound"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := TestNewSigner(t, tt.issuer)
			coseSigner := TestNewKeySigner(t, tt.kid)

			msg, err := s.Sign1(coseSigner, tt.subject, tt.head, tt.external)
			require.NoError(t, err)

			signed, head, err := Decode(s.cborCodec, msg)
			require.NoError(t, err)
			assert.Empty(t, head.Root)
			assert.Equal(t, tt.head.SequenceNumber, head.SequenceNumber)
			assert.Equal(t, tt.head.Depth, head.Depth)

			// verification must fail if we haven't put the root in
			err = Verify(s.cborCodec, NewClaimsKeyProvider(signed), signed, head, tt.external)
			assert.ErrorIs(t, err, ErrRootDetached)

			head.Root = []byte{0xff}
			err = Verify(s.cborCodec, NewClaimsKeyProvider(signed), signed, head, tt.external)
			assert.Error(t, err)

			head.Root = tt.head.Root
			err = Verify(s.cborCodec, NewClaimsKeyProvider(signed), signed, head, tt.external)
			assert.NoError(t, err)

			pub, err := coseSigner.PublicKey()
			require.NoError(t, err)
			err = Verify(s.cborCodec, NewKeyProvider(signed, pub), signed, head, tt.external)
			assert.NoError(t, err)

			other := TestNewKeySigner(t, "other")
			otherPub, err := other.PublicKey()
			require.NoError(t, err)
			err = Verify(s.cborCodec, NewKeyProvider(signed, otherPub), signed, head, tt.external)
			assert.Error(t, err)
		})
	}
}

func TestHeadFromRoll(t *testing.T) {
	r, err := cmt.NewMerkleRoll(3, 8)
	require.NoError(t, err)
	_, err = r.Initialize()
	require.NoError(t, err)
	_, err = r.Append(cmt.Node{1})
	require.NoError(t, err)

	head := HeadFromRoll(r, 42)
	root := r.Root()
	assert.Equal(t, root[:], head.Root)
	assert.Equal(t, uint64(1), head.SequenceNumber)
	assert.Equal(t, uint32(1), head.LeafCount)
	assert.Equal(t, uint8(3), head.Depth)
	assert.Equal(t, uint32(8), head.MaxBufferSize)
	assert.NoError(t, head.Matches(r))

	_, err = r.Append(cmt.Node{2})
	require.NoError(t, err)
	assert.ErrorIs(t, head.Matches(r), ErrHeadMismatch)

	detached := head
	detached.Root = nil
	assert.Equal(t, head, detached.WithRoot(root))
}

func TestLoadKeySigner(t *testing.T) {
	key := TestGenerateECKey(t, elliptic.P256())
	der, err := x509.MarshalECPrivateKey(&key)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600))

	signer, err := LoadKeySigner(path, "kid")
	require.NoError(t, err)
	pub, err := signer.PublicKey()
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(pub))
	assert.Equal(t, "kid", signer.KeyIdentifier())

	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0o600))
	_, err = LoadKeySigner(bad, "kid")
	assert.ErrorIs(t, err, ErrKeyNotEC)
}
