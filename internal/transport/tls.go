package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// alpnProtocol is the single ALPN identifier Host and Viewer negotiate.
// Peers that don't offer it are not speaking this protocol.
const alpnProtocol = "entangle"

// ServerName is the name baked into the server's self-signed certificate.
// Peers connect by address, not hostname, so the name itself is arbitrary;
// it exists so the client has a concrete SNI/ALPN peer identity to present,
// matching the spec's Connect(ctx, remoteAddr, serverName) signature.
const ServerName = "entangle.local"

// serverTLSConfig builds a TLS config around a freshly generated self-signed
// certificate. There is no certificate authority in this system: peers
// exchange session identity out of band through signaling, not through
// PKI, so the certificate only needs to stand up a TLS 1.3 channel.
func serverTLSConfig() (*tls.Config, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("transport: generate server certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// clientTLSConfig builds a TLS config that accepts any server certificate.
// Opportunistic encryption: the channel is confidential against passive
// observers but not authenticated against an active MITM, matching the
// original implementation's SkipServerVerification behavior. An empty
// serverName falls back to ServerName.
func clientTLSConfig(serverName string) *tls.Config {
	if serverName == "" {
		serverName = ServerName
	}
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
		MinVersion:         tls.VersionTLS13,
		ServerName:         serverName,
	}
}

func generateSelfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: ServerName},
		DNSNames:              []string{ServerName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}
