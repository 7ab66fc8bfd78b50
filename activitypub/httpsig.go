package activitypub

import (
	"code.superseriousbusiness.org/httpsig"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
)

// SignRequest signs an outgoing HTTP request with the given private key.
// keyId format: "https://example.com/users/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string, body []byte) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{"(request-target)", "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, body)
}

// SignatureKeyId returns the actor URI named by the request's
// Signature keyId, so the caller can fetch the matching public key
// before verifying.
func SignatureKeyId(req *http.Request) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("missing or malformed signature: %w", err)
	}
	return strings.Split(verifier.KeyId(), "#")[0], nil
}

// VerifyRequest verifies the HTTP signature on an incoming request.
// Returns the actor URI derived from the keyId if valid.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	if err := verifier.Verify(rsaPubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	// keyId is usually "https://example.com/users/alice#main-key"
	actorURI := strings.Split(verifier.KeyId(), "#")[0]

	return actorURI, nil
}

// ParsePrivateKey converts a PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts a PEM string to *rsa.PublicKey. Remote
// servers publish PKIX blocks, our own keys are PKCS1; accept both.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if pubKey, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPubKey, ok := pubKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key")
		}
		return rsaPubKey, nil
	}

	rsaPubKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	return rsaPubKey, nil
}
