// Package security provides cryptographic attestation for published metrics,
// so downstream consumers can verify a metrics payload came from this service
// and was not altered in transit.
package security

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/goldbtc-metrics/internal/model"
)

// Attestor signs derived metrics payloads with a per-process key.
type Attestor struct {
	privateKey       *ecdsa.PrivateKey
	publicKeyEncoded string
	opts             Options
}

// Options configures the attestation behavior
type Options struct {
	// Enabled toggles signing; when false payloads pass through unsigned
	Enabled bool `json:"enabled"`

	// Validity bounds how long a signature is accepted after signing
	Validity time.Duration `json:"validity"`
}

// Signature is the attestation envelope attached to signed payloads
type Signature struct {
	Value      string `json:"value"`
	PublicKey  string `json:"public_key"`
	Algorithm  string `json:"algorithm"`
	SignedAt   int64  `json:"signed_at"`
	ValidUntil int64  `json:"valid_until"`
}

// SignedMetrics is a derived metrics payload with its attestation
type SignedMetrics struct {
	Metrics   *model.DerivedMetrics `json:"metrics"`
	Signature *Signature            `json:"signature,omitempty"`
}

// NewAttestor creates an attestor with a freshly generated secp256k1 key.
// The key lives only for the process lifetime; consumers pick up the public
// key from the signed payloads themselves.
func NewAttestor(opts Options) (*Attestor, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation key: %w", err)
	}

	publicKeyEncoded := base64.StdEncoding.EncodeToString(crypto.FromECDSAPub(&privateKey.PublicKey))

	logrus.Infof("Metrics attestor initialized with public key %s...", publicKeyEncoded[:16])
	return &Attestor{
		privateKey:       privateKey,
		publicKeyEncoded: publicKeyEncoded,
		opts:             opts,
	}, nil
}

// Sign wraps derived metrics with a signature over their canonical JSON
// encoding. When signing is disabled the metrics pass through unsigned.
func (a *Attestor) Sign(metrics *model.DerivedMetrics) (*SignedMetrics, error) {
	if !a.opts.Enabled {
		return &SignedMetrics{Metrics: metrics}, nil
	}

	payloadBytes, err := json.Marshal(metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}

	hash := sha256.Sum256(payloadBytes)
	r, s, err := ecdsa.Sign(rand.Reader, a.privateKey, hash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign metrics: %w", err)
	}

	signature := append(padBytes(r, 32), padBytes(s, 32)...)
	now := time.Now()

	return &SignedMetrics{
		Metrics: metrics,
		Signature: &Signature{
			Value:      base64.StdEncoding.EncodeToString(signature),
			PublicKey:  a.publicKeyEncoded,
			Algorithm:  "ECDSA-secp256k1-SHA256",
			SignedAt:   now.Unix(),
			ValidUntil: now.Add(a.opts.Validity).Unix(),
		},
	}, nil
}

// Verify checks a signed metrics payload against its embedded signature.
func (a *Attestor) Verify(signed *SignedMetrics) (bool, error) {
	if !a.opts.Enabled {
		return true, nil
	}

	if signed.Signature == nil {
		return false, fmt.Errorf("signature missing")
	}

	if time.Now().Unix() > signed.Signature.ValidUntil {
		return false, fmt.Errorf("signature expired at %v",
			time.Unix(signed.Signature.ValidUntil, 0))
	}

	signatureBytes, err := base64.StdEncoding.DecodeString(signed.Signature.Value)
	if err != nil {
		return false, fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(signatureBytes) != 64 {
		return false, fmt.Errorf("invalid signature length: %d", len(signatureBytes))
	}

	publicKeyBytes, err := base64.StdEncoding.DecodeString(signed.Signature.PublicKey)
	if err != nil {
		return false, fmt.Errorf("failed to decode public key: %w", err)
	}
	publicKey, err := crypto.UnmarshalPubkey(publicKeyBytes)
	if err != nil {
		return false, fmt.Errorf("failed to parse public key: %w", err)
	}

	payloadBytes, err := json.Marshal(signed.Metrics)
	if err != nil {
		return false, fmt.Errorf("failed to marshal metrics: %w", err)
	}
	hash := sha256.Sum256(payloadBytes)

	r := new(big.Int).SetBytes(signatureBytes[:32])
	s := new(big.Int).SetBytes(signatureBytes[32:])

	if !ecdsa.Verify(publicKey, hash[:], r, s) {
		return false, fmt.Errorf("signature verification failed")
	}

	return true, nil
}

// OnChainAttestation produces an Ethereum-compatible attestation for the
// metrics: a Keccak256 hash plus a recoverable secp256k1 signature that a
// contract can verify with ecrecover.
func (a *Attestor) OnChainAttestation(metrics *model.DerivedMetrics) (map[string]interface{}, error) {
	payloadBytes, err := json.Marshal(metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}

	keccakHash := crypto.Keccak256Hash(payloadBytes)

	signature, err := crypto.Sign(keccakHash.Bytes(), a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign with Ethereum scheme: %w", err)
	}

	return map[string]interface{}{
		"metrics":       metrics,
		"keccak256Hash": keccakHash.Hex(),
		"signature":     fmt.Sprintf("0x%x", signature),
		"signer":        crypto.PubkeyToAddress(a.privateKey.PublicKey).Hex(),
		"timestamp":     time.Now().Unix(),
	}, nil
}

// PublicKey returns the base64-encoded public key
func (a *Attestor) PublicKey() string {
	return a.publicKeyEncoded
}

// padBytes left-pads a big.Int's bytes to the given length. r and s can
// encode to fewer than 32 bytes; the signature format needs fixed widths.
func padBytes(v *big.Int, length int) []byte {
	b := v.Bytes()
	if len(b) >= length {
		return b
	}
	padded := make([]byte, length)
	copy(padded[length-len(b):], b)
	return padded
}
