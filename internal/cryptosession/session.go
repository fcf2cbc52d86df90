// Package cryptosession establishes an authenticated, encrypted channel
// between a Host and a Viewer using an ephemeral X25519 key exchange
// followed by ChaCha20-Poly1305 AEAD framing. It is independent of
// internal/transport: the handshake exchanges raw public-key bytes over
// whatever channel the caller provides, and the resulting session only
// knows how to encrypt and decrypt byte slices.
package cryptosession

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	// PublicKeySize is the length of an X25519 public key.
	PublicKeySize = 32
	// NonceSize is the ChaCha20-Poly1305 nonce length.
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the ChaCha20-Poly1305 authentication tag length.
	TagSize = chacha20poly1305.Overhead
)

// Direction records which side of the handshake a session played,
// because it determines the nonce prefix used for each direction.
type Direction int

const (
	Initiator Direction = iota
	Responder
)

// KeyPair is an ephemeral X25519 key pair used for exactly one handshake.
type KeyPair struct {
	private [32]byte
	public  [32]byte
}

// GenerateKeyPair creates a new ephemeral key pair from crypto/rand.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.private[:]); err != nil {
		return KeyPair{}, fmt.Errorf("cryptosession: generate private key: %w", err)
	}
	pub, err := curve25519.X25519(kp.private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("cryptosession: derive public key: %w", err)
	}
	copy(kp.public[:], pub)
	return kp, nil
}

// PublicKey returns the bytes to send to the peer.
func (kp KeyPair) PublicKey() [PublicKeySize]byte {
	return kp.public
}

// diffieHellman computes the shared secret with a peer's public key.
func (kp KeyPair) diffieHellman(theirPublic [PublicKeySize]byte) ([32]byte, error) {
	shared, err := curve25519.X25519(kp.private[:], theirPublic[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("cryptosession: X25519: %w", err)
	}
	var out [32]byte
	copy(out[:], shared)
	return out, nil
}

// Session is an established cryptographic channel. It is not safe for
// concurrent use: encrypt and decrypt each advance a monotonic counter
// and must be serialized by the caller (or split across two Sessions,
// one per direction, if that is more convenient).
type Session struct {
	aead         cipherAEAD
	sendCounter  uint64
	recvCounter  uint64
	direction    Direction
}

// cipherAEAD is the subset of cipher.AEAD that Session needs; declared
// locally so the zero value of Session doesn't require an import alias.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// FromSharedSecret builds a Session directly from an already-computed
// shared secret. The shared secret is used as the symmetric key as-is;
// there is no HKDF step, mirroring the handshake this was ported from.
func FromSharedSecret(sharedSecret [32]byte, direction Direction) (*Session, error) {
	aead, err := chacha20poly1305.New(sharedSecret[:])
	if err != nil {
		return nil, fmt.Errorf("cryptosession: init AEAD: %w", err)
	}
	return &Session{aead: aead, direction: direction}, nil
}

// generateNonce derives a 12-byte nonce from a monotonic counter. The
// 4-byte direction prefix keeps the two peers' nonce spaces disjoint so
// neither side can ever reuse a nonce the other has used, even though
// each side counts independently from zero.
func (s *Session) generateNonce(counter uint64, isSend bool) [NonceSize]byte {
	var nonce [NonceSize]byte

	var prefix uint32
	switch {
	case s.direction == Initiator && isSend:
		prefix = 0x00000000
	case s.direction == Initiator && !isSend:
		prefix = 0xFFFFFFFF
	case s.direction == Responder && isSend:
		prefix = 0xFFFFFFFF
	case s.direction == Responder && !isSend:
		prefix = 0x00000000
	}

	nonce[0] = byte(prefix)
	nonce[1] = byte(prefix >> 8)
	nonce[2] = byte(prefix >> 16)
	nonce[3] = byte(prefix >> 24)
	for i := 0; i < 8; i++ {
		nonce[4+i] = byte(counter >> (8 * i))
	}
	return nonce
}

// Encrypt seals plaintext, returning ciphertext with the 16-byte
// authentication tag appended.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	if s.sendCounter == ^uint64(0) {
		return nil, ErrNonceOverflow
	}
	nonce := s.generateNonce(s.sendCounter, true)
	ciphertext := s.aead.Seal(nil, nonce[:], plaintext, nil)
	s.sendCounter++
	return ciphertext, nil
}

// Decrypt opens and authenticates ciphertext produced by the peer's
// Encrypt. Sequencing is implicit: both sides must call Decrypt/Encrypt
// in lockstep per message, since the counter is not carried on the wire.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < TagSize {
		return nil, ErrCiphertextTooShort
	}
	if s.recvCounter == ^uint64(0) {
		return nil, ErrNonceOverflow
	}
	nonce := s.generateNonce(s.recvCounter, false)
	plaintext, err := s.aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	s.recvCounter++
	return plaintext, nil
}

// SendCount returns the number of messages encrypted so far.
func (s *Session) SendCount() uint64 { return s.sendCounter }

// RecvCount returns the number of messages decrypted so far.
func (s *Session) RecvCount() uint64 { return s.recvCounter }

// HandshakeBuilder walks one side of a handshake through generating a
// key pair, exposing its public key, and completing the exchange once
// the peer's public key has arrived over the signaling channel.
type HandshakeBuilder struct {
	keyPair   KeyPair
	direction Direction
}

// NewInitiatorHandshake starts a handshake as the side that opened the
// connection (the Viewer, per the session state machine).
func NewInitiatorHandshake() (*HandshakeBuilder, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &HandshakeBuilder{keyPair: kp, direction: Initiator}, nil
}

// NewResponderHandshake starts a handshake as the side that accepted the
// connection (the Host, per the session state machine).
func NewResponderHandshake() (*HandshakeBuilder, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &HandshakeBuilder{keyPair: kp, direction: Responder}, nil
}

// PublicKey returns the bytes to send to the peer.
func (h *HandshakeBuilder) PublicKey() [PublicKeySize]byte {
	return h.keyPair.PublicKey()
}

// Complete derives the shared secret from the peer's public key and
// returns the resulting Session.
func (h *HandshakeBuilder) Complete(theirPublic [PublicKeySize]byte) (*Session, error) {
	shared, err := h.keyPair.diffieHellman(theirPublic)
	if err != nil {
		return nil, err
	}
	return FromSharedSecret(shared, h.direction)
}
