package codec

import (
	"github.com/rhema-dev/coordination/coorderr"
)

// Codec encodes and decodes Message payloads into wire envelopes, applying
// the configured compression and encryption. A Codec is safe for concurrent
// use; its zstd encoder/decoder pair is mutex-guarded.
type Codec struct {
	compression CompressionID
	algorithm   AlgorithmID
	key         []byte
	zstd        *zstdCodec
}

// Option configures a Codec at construction time.
type Option func(*Codec) error

// WithCompression enables zstd compression of the envelope body.
func WithCompression() Option {
	return func(c *Codec) error {
		c.compression = CompressionZstd
		return nil
	}
}

// WithEncryption enables symmetric encryption under algorithm with the
// given key. Key length must match the algorithm's requirement exactly.
func WithEncryption(algorithm AlgorithmID, key []byte) Option {
	return func(c *Codec) error {
		if algorithm == AlgorithmNone {
			return nil
		}
		want := keyLen(algorithm)
		if want == 0 {
			return coorderr.New(coorderr.CodeInvalidConfiguration, "unsupported encryption algorithm")
		}
		if len(key) != want {
			return coorderr.New(coorderr.CodeInvalidConfiguration, "encryption key has wrong length").
				WithTarget(string(rune(algorithm)))
		}
		c.algorithm = algorithm
		c.key = key
		return nil
	}
}

// New builds a Codec with the given options applied in order.
func New(opts ...Option) (*Codec, error) {
	c := &Codec{compression: CompressionNone, algorithm: AlgorithmNone}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.compression == CompressionZstd {
		zc, err := newZstdCodec()
		if err != nil {
			return nil, err
		}
		c.zstd = zc
	}
	return c, nil
}

// Close releases the codec's zstd encoder/decoder, if any.
func (c *Codec) Close() {
	if c.zstd != nil {
		c.zstd.close()
	}
}

// Encode compresses (if configured) then encrypts (if configured) plain and
// wraps the result in a wire envelope.
func (c *Codec) Encode(plain []byte) ([]byte, error) {
	body := plain
	var flags byte
	if c.compression == CompressionZstd {
		body = c.zstd.compress(body)
		flags |= flagCompressed
	}
	if c.algorithm != AlgorithmNone {
		sealed, err := seal(c.algorithm, c.key, body)
		if err != nil {
			return nil, coorderr.New(coorderr.CodeUnsupportedEnvelope, "encrypt body").WithCause(err)
		}
		body = sealed
		flags |= flagEncrypted
	}
	return marshalEnvelope(flags, c.algorithm, c.compression, body), nil
}

// Decode reverses Encode: unwraps the envelope, decrypts then decompresses
// according to the flags actually present on the wire (not the codec's own
// configuration, so a receiver can decode envelopes produced under a
// different compression/encryption choice as long as it holds the right
// key).
func (c *Codec) Decode(raw []byte) ([]byte, error) {
	env, err := unmarshalEnvelope(raw)
	if err != nil {
		return nil, err
	}
	body := env.Body
	if env.Encrypted {
		plain, err := open(env.Algorithm, c.key, body)
		if err != nil {
			return nil, coorderr.New(coorderr.CodeUnsupportedEnvelope, "decrypt body").WithCause(err)
		}
		body = plain
	}
	if env.Compressed {
		if c.zstd == nil {
			zc, zErr := newZstdCodec()
			if zErr != nil {
				return nil, zErr
			}
			defer zc.close()
			return zc.decompress(body)
		}
		return c.zstd.decompress(body)
	}
	return body, nil
}
