// Copyright 2025 Certen Protocol
//
// Key Primitives - ECDSA P-256 key management, signing and digests
//
// All record identity and ownership in the simulated network rests on
// these primitives:
// - ECDSA P-256 key pairs with compact, deterministic byte encodings
// - Detached ASN.1 signatures over SHA-256 digests
// - A CSPRNG source for key and nonce material

package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// PublicKeySize is the length of a compressed P-256 public key in bytes.
const PublicKeySize = 33

// PrivateKeySize is the length of an exported P-256 scalar in bytes.
const PrivateKeySize = 32

// KeyPair bundles an ECDSA P-256 private key with its exported forms.
// The byte encodings are what travel through records and indexes; the
// parsed key stays private to the holder.
type KeyPair struct {
	private *ecdsa.PrivateKey

	// Exported encodings, computed once at generation/import time.
	publicBytes  []byte
	privateBytes []byte
}

// Generate creates a fresh ECDSA P-256 key pair.
func Generate() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate P-256 key: %w", err)
	}
	return fromPrivate(priv)
}

// FromPrivateBytes reconstructs a key pair from an exported 32-byte scalar.
func FromPrivateBytes(d []byte) (*KeyPair, error) {
	if len(d) != PrivateKeySize {
		return nil, fmt.Errorf("%w: private key must be %d bytes, got %d", ErrKeyInvalid, PrivateKeySize, len(d))
	}
	curve := elliptic.P256()
	k := new(big.Int).SetBytes(d)
	if k.Sign() == 0 || k.Cmp(curve.Params().N) >= 0 {
		return nil, fmt.Errorf("%w: private scalar out of range", ErrKeyInvalid)
	}
	priv := new(ecdsa.PrivateKey)
	priv.Curve = curve
	priv.D = k
	priv.X, priv.Y = curve.ScalarBaseMult(d)
	return fromPrivate(priv)
}

func fromPrivate(priv *ecdsa.PrivateKey) (*KeyPair, error) {
	pub := elliptic.MarshalCompressed(elliptic.P256(), priv.X, priv.Y)
	d := priv.D.Bytes()
	// Left-pad the scalar to a fixed width so exports are stable.
	padded := make([]byte, PrivateKeySize)
	copy(padded[PrivateKeySize-len(d):], d)
	return &KeyPair{
		private:      priv,
		publicBytes:  pub,
		privateBytes: padded,
	}, nil
}

// PublicBytes returns the compressed public key encoding.
func (kp *KeyPair) PublicBytes() []byte {
	out := make([]byte, len(kp.publicBytes))
	copy(out, kp.publicBytes)
	return out
}

// PrivateBytes returns the exported private scalar.
func (kp *KeyPair) PrivateBytes() []byte {
	out := make([]byte, len(kp.privateBytes))
	copy(out, kp.privateBytes)
	return out
}

// PublicHex returns the hex form of the compressed public key. This is
// the creator identity used throughout record logs and indexes.
func (kp *KeyPair) PublicHex() string {
	return hex.EncodeToString(kp.publicBytes)
}

// Sign produces a detached ASN.1 ECDSA signature over SHA256(data).
func (kp *KeyPair) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, kp.private, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// Sign signs data with an exported private scalar.
func Sign(privateKey, data []byte) ([]byte, error) {
	kp, err := FromPrivateBytes(privateKey)
	if err != nil {
		return nil, err
	}
	return kp.Sign(data)
}

// ParsePublicKey decodes a compressed P-256 public key.
func ParsePublicKey(pub []byte) (*ecdsa.PublicKey, error) {
	if len(pub) != PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrKeyInvalid, PublicKeySize, len(pub))
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), pub)
	if x == nil {
		return nil, fmt.Errorf("%w: not a point on P-256", ErrKeyInvalid)
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// ParsePublicKeyHex decodes a hex-encoded compressed public key.
func ParsePublicKeyHex(pubHex string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}
	return ParsePublicKey(raw)
}

// Verify checks a detached signature over SHA256(data). It returns nil on
// success, ErrKeyInvalid for a malformed key and ErrSignatureInvalid for a
// mismatched signature. Verification is deterministic: the same inputs
// always produce the same outcome.
func Verify(pub, data, sig []byte) error {
	key, err := ParsePublicKey(pub)
	if err != nil {
		return err
	}
	return VerifyWithKey(key, data, sig)
}

// VerifyWithKey verifies against an already-parsed public key. Callers
// that verify many records from the same creator should parse once and
// reuse the key; equality of key material, not identity of byte slices,
// decides the outcome.
func VerifyWithKey(key *ecdsa.PublicKey, data, sig []byte) error {
	digest := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(key, digest[:], sig) {
		return ErrSignatureInvalid
	}
	return nil
}

// SHA256 returns the 32-byte digest of data. Identical input always
// produces an identical digest.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// RandomBytes returns n bytes from the CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return buf, nil
}
