// Package serialization defines the encoder/decoder pair used at the
// cache's storage boundary, plus a size estimator for arbitrary payloads.
package serialization

import "io"

const (

	// JSONType represents the serialization type for JSON format.
	JSONType = "json"

	// GobType represents the serialization type for Gob format.
	GobType = "gob"
)

// Decoder reads one value from the underlying stream.
type Decoder interface {
	Decode(v any) error
}

// Encoder writes one value to the underlying stream.
type Encoder interface {
	Encode(v any) error
}

// EncoderFactory builds an Encoder over w.
type EncoderFactory func(w io.Writer) Encoder

// DecoderFactory builds a Decoder over r.
type DecoderFactory func(r io.Reader) Decoder
