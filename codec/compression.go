package codec

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdCodec wraps a single encoder/decoder pair, reused across calls rather
// than constructed fresh per message.
type zstdCodec struct {
	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCodec{encoder: encoder, decoder: decoder}, nil
}

func (z *zstdCodec) compress(plain []byte) []byte {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.encoder.EncodeAll(plain, nil)
}

func (z *zstdCodec) decompress(compressed []byte) ([]byte, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.decoder.DecodeAll(compressed, nil)
}

func (z *zstdCodec) close() {
	z.encoder.Close()
	z.decoder.Close()
}
