package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/rhema-dev/coordination/coorderr"
)

// cipherFor builds the AEAD for the given algorithm and 32-byte key. Key
// length is validated by the caller (Codec.SetKey); a short key here is a
// caller bug, not an operator-correctable failure, so it's surfaced as a
// wrapped stdlib error rather than a coorderr code.
func cipherFor(algorithm AlgorithmID, key []byte) (cipher.AEAD, error) {
	switch algorithm {
	case AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case AlgorithmChaCha20Poly1305:
		return chacha20poly1305.New(key)
	case AlgorithmXChaCha20Poly1305:
		return chacha20poly1305.NewX(key)
	default:
		return nil, coorderr.New(coorderr.CodeUnsupportedEnvelope, "no AEAD for algorithm").WithRetryable(false)
	}
}

// seal encrypts plaintext under key using algorithm, prefixing the nonce to
// the ciphertext so decrypt can recover it without a side channel.
func seal(algorithm AlgorithmID, key, plaintext []byte) ([]byte, error) {
	aead, err := cipherFor(algorithm, key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// open reverses seal.
func open(algorithm AlgorithmID, key, body []byte) ([]byte, error) {
	aead, err := cipherFor(algorithm, key)
	if err != nil {
		return nil, err
	}
	if len(body) < aead.NonceSize() {
		return nil, coorderr.New(coorderr.CodeUnsupportedEnvelope, "ciphertext shorter than nonce")
	}
	nonce, ciphertext := body[:aead.NonceSize()], body[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

// keyLen returns the required symmetric key length for algorithm.
func keyLen(algorithm AlgorithmID) int {
	switch algorithm {
	case AlgorithmAES256GCM:
		return 32
	case AlgorithmChaCha20Poly1305:
		return chacha20poly1305.KeySize
	case AlgorithmXChaCha20Poly1305:
		return chacha20poly1305.KeySize
	default:
		return 0
	}
}
