// Package codec converts Message records to and from wire bytes, with
// optional compression and optional symmetric encryption selected by
// configuration. The wire envelope is shared by every transport (in-process
// handoff, the optional websocket transport, and consensus traffic).
package codec

import (
	"encoding/binary"

	"github.com/rhema-dev/coordination/coorderr"
)

// EnvelopeVersion is the only version this codec emits or accepts.
const EnvelopeVersion byte = 1

// flag bits within the envelope's flags byte.
const (
	flagCompressed byte = 1 << 0
	flagEncrypted  byte = 1 << 1
)

// AlgorithmID identifies the encryption algorithm applied to an envelope's
// body.
type AlgorithmID uint16

const (
	AlgorithmNone              AlgorithmID = 0x0000
	AlgorithmAES256GCM         AlgorithmID = 0x0001
	AlgorithmChaCha20Poly1305  AlgorithmID = 0x0002
	AlgorithmXChaCha20Poly1305 AlgorithmID = 0x0003
)

// CompressionID identifies the compression algorithm applied to an
// envelope's body, applied before encryption on encode and read back after
// decryption on decode.
type CompressionID byte

const (
	CompressionNone CompressionID = 0x00
	CompressionZstd CompressionID = 0x01
)

// envelopeHeaderLen is version(1) + flags(1) + algorithm id(2) + compression id(1).
const envelopeHeaderLen = 5

// Envelope is the decoded wire header plus its body. Body holds the
// compressed-then-encrypted bytes exactly as read off the wire; callers use
// Codec.Decode to get back a plaintext Message payload.
type Envelope struct {
	Version     byte
	Compressed  bool
	Encrypted   bool
	Compression CompressionID
	Algorithm   AlgorithmID
	Body        []byte
}

// marshalEnvelope lays out version, flags, algorithm id, compression id, body.
func marshalEnvelope(flags byte, algorithm AlgorithmID, compression CompressionID, body []byte) []byte {
	out := make([]byte, envelopeHeaderLen+len(body))
	out[0] = EnvelopeVersion
	out[1] = flags
	binary.BigEndian.PutUint16(out[2:4], uint16(algorithm))
	out[4] = byte(compression)
	copy(out[envelopeHeaderLen:], body)
	return out
}

// unmarshalEnvelope splits raw wire bytes into their header fields and body,
// rejecting anything shorter than the header or carrying an unknown version,
// algorithm id, or compression id.
func unmarshalEnvelope(raw []byte) (*Envelope, error) {
	if len(raw) < envelopeHeaderLen {
		return nil, coorderr.New(coorderr.CodeUnsupportedEnvelope, "envelope shorter than header")
	}
	version := raw[0]
	if version != EnvelopeVersion {
		return nil, coorderr.New(coorderr.CodeUnsupportedEnvelope, "unknown envelope version")
	}
	flags := raw[1]
	algorithm := AlgorithmID(binary.BigEndian.Uint16(raw[2:4]))
	compression := CompressionID(raw[4])
	if !validAlgorithm(algorithm) {
		return nil, coorderr.New(coorderr.CodeUnsupportedEnvelope, "unknown encryption algorithm id")
	}
	if !validCompression(compression) {
		return nil, coorderr.New(coorderr.CodeUnsupportedEnvelope, "unknown compression id")
	}
	return &Envelope{
		Version:     version,
		Compressed:  flags&flagCompressed != 0,
		Encrypted:   flags&flagEncrypted != 0,
		Compression: compression,
		Algorithm:   algorithm,
		Body:        raw[envelopeHeaderLen:],
	}, nil
}

func validAlgorithm(id AlgorithmID) bool {
	switch id {
	case AlgorithmNone, AlgorithmAES256GCM, AlgorithmChaCha20Poly1305, AlgorithmXChaCha20Poly1305:
		return true
	default:
		return false
	}
}

func validCompression(id CompressionID) bool {
	switch id {
	case CompressionNone, CompressionZstd:
		return true
	default:
		return false
	}
}
