package skillrt

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// SignatureFile is the signed claim set at a bundle root: a compact JWS
// over the bundle hash, keyed by the manifest's public_key_id.
const SignatureFile = "bundle.sig"

// SignatureClaims is what a publisher attests to.
type SignatureClaims struct {
	Slug       string `json:"slug"`
	Version    string `json:"version"`
	BundleHash string `json:"bundle_hash"`
	jwt.RegisteredClaims
}

// GenerateKeyPair produces an Ed25519 signing pair for the trust store.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, titanerr.Wrap(titanerr.KindInternal, "skillrt.GenerateKeyPair", "generate ed25519 pair", err)
	}
	return pub, priv, nil
}

// SavePrivateKey writes the signing key as PKCS8 PEM, mode 0600.
func SavePrivateKey(path string, key ed25519.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "skillrt.SavePrivateKey", "marshal key", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, block, 0o600); err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "skillrt.SavePrivateKey", "write "+path, err)
	}
	return nil
}

// SavePublicKey writes the verification key as PKIX PEM.
func SavePublicKey(path string, key ed25519.PublicKey) error {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "skillrt.SavePublicKey", "marshal key", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	if err := os.WriteFile(path, block, 0o644); err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "skillrt.SavePublicKey", "write "+path, err)
	}
	return nil
}

// LoadPrivateKey reads a PKCS8 PEM signing key.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.LoadPrivateKey", "read "+path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, titanerr.New(titanerr.KindValidation, "skillrt.LoadPrivateKey", "no PEM block in "+path)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.LoadPrivateKey", "parse key", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, titanerr.New(titanerr.KindValidation, "skillrt.LoadPrivateKey", "not an ed25519 key")
	}
	return key, nil
}

// LoadPublicKey reads a PKIX PEM verification key.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.LoadPublicKey", "read "+path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, titanerr.New(titanerr.KindValidation, "skillrt.LoadPublicKey", "no PEM block in "+path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.LoadPublicKey", "parse key", err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, titanerr.New(titanerr.KindValidation, "skillrt.LoadPublicKey", "not an ed25519 key")
	}
	return key, nil
}

// SignBundle writes bundle.sig for a staged bundle.
func SignBundle(bundleDir string, m *Manifest, key ed25519.PrivateKey) error {
	hash, err := BundleHash(bundleDir)
	if err != nil {
		return err
	}
	claims := SignatureClaims{
		Slug:       m.Slug,
		Version:    m.Version,
		BundleHash: hash,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = m.PublicKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "skillrt.SignBundle", "sign claims", err)
	}
	if err := os.WriteFile(filepath.Join(bundleDir, SignatureFile), []byte(signed), 0o644); err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "skillrt.SignBundle", "write signature", err)
	}
	return nil
}

// VerifySignature checks bundle.sig against the trust store. It returns
// SigUnsigned when the bundle carries no signature, SigSigned when the
// signature verifies and matches the expected hash, and SigInvalid with an
// error otherwise.
func VerifySignature(bundleDir, trustDir string, m *Manifest, expectedHash string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(bundleDir, SignatureFile))
	if os.IsNotExist(err) {
		return SigUnsigned, nil
	}
	if err != nil {
		return SigInvalid, titanerr.Wrap(titanerr.KindValidation, "skillrt.VerifySignature", "read signature", err)
	}
	if m.PublicKeyID == "" {
		return SigInvalid, titanerr.New(titanerr.KindValidation, "skillrt.VerifySignature",
			"bundle is signed but the manifest names no public_key_id")
	}
	pub, err := LoadPublicKey(filepath.Join(trustDir, m.PublicKeyID+".pub"))
	if err != nil {
		return SigInvalid, titanerr.Wrap(titanerr.KindValidation, "skillrt.VerifySignature",
			"key "+m.PublicKeyID+" is not in the trust store", err)
	}

	var claims SignatureClaims
	_, err = jwt.ParseWithClaims(string(raw), &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, titanerr.New(titanerr.KindValidation, "skillrt.VerifySignature", "unexpected signing method")
		}
		return ed25519.PublicKey(pub), nil
	})
	if err != nil {
		return SigInvalid, titanerr.Wrap(titanerr.KindValidation, "skillrt.VerifySignature", "verify signature", err)
	}
	if claims.Slug != m.Slug || claims.Version != m.Version || claims.BundleHash != expectedHash {
		return SigInvalid, titanerr.New(titanerr.KindValidation, "skillrt.VerifySignature",
			"signature claims do not match the staged bundle")
	}
	return SigSigned, nil
}
