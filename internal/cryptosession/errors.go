package cryptosession

import "errors"

var (
	ErrNonceOverflow     = errors.New("cryptosession: nonce counter exhausted, session must be re-keyed")
	ErrDecryptionFailed  = errors.New("cryptosession: decryption failed")
	ErrCiphertextTooShort = errors.New("cryptosession: ciphertext shorter than authentication tag")
)
