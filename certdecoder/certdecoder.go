// Package certdecoder extracts the PIV algorithm tag and SSH-wire public
// key from a DER-encoded X.509 certificate. It is the "external X.509 DER
// parser" collaborator this agent treats as a pure function
// cert_der -> (algorithm, public_key): the core protocol engine never
// parses certificate internals itself, it only hands DER bytes here.
package certdecoder

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/amarbel-llc/pivy/piv/algorithm"
)

// Decode parses certDER and returns the PIV algorithm tag it was issued
// under plus its public key in SSH wire format, ready to compare against
// an agent.Key blob or hand to ssh.ParsePublicKey's counterpart.
func Decode(certDER []byte) (algorithm.Algorithm, ssh.PublicKey, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return 0, nil, fmt.Errorf("certdecoder: parse certificate: %w", err)
	}

	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		alg, err := rsaAlgorithm(pub)
		if err != nil {
			return 0, nil, err
		}
		sshPub, err := ssh.NewPublicKey(pub)
		if err != nil {
			return 0, nil, fmt.Errorf("certdecoder: marshal RSA key: %w", err)
		}
		return alg, sshPub, nil

	case *ecdsa.PublicKey:
		alg, err := ecdsaAlgorithm(pub)
		if err != nil {
			return 0, nil, err
		}
		sshPub, err := ssh.NewPublicKey(pub)
		if err != nil {
			return 0, nil, fmt.Errorf("certdecoder: marshal EC key: %w", err)
		}
		return alg, sshPub, nil

	case ed25519.PublicKey:
		sshPub, err := ssh.NewPublicKey(pub)
		if err != nil {
			return 0, nil, fmt.Errorf("certdecoder: marshal Ed25519 key: %w", err)
		}
		return algorithm.Ed25519, sshPub, nil

	default:
		return 0, nil, fmt.Errorf("certdecoder: unsupported public key type %T", pub)
	}
}

func rsaAlgorithm(pub *rsa.PublicKey) (algorithm.Algorithm, error) {
	switch pub.Size() {
	case 128:
		return algorithm.RSA1024, nil
	case 256:
		return algorithm.RSA2048, nil
	default:
		return 0, fmt.Errorf("certdecoder: unsupported RSA key size %d bits", pub.Size()*8)
	}
}

func ecdsaAlgorithm(pub *ecdsa.PublicKey) (algorithm.Algorithm, error) {
	switch pub.Curve {
	case elliptic.P256():
		return algorithm.ECP256, nil
	case elliptic.P384():
		return algorithm.ECP384, nil
	default:
		return 0, fmt.Errorf("certdecoder: unsupported EC curve %s", pub.Curve.Params().Name)
	}
}
