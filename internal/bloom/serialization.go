package bloom

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
)

// Serialized is the JSON-embeddable form of a Filter. The bit array is
// snappy-compressed and base64-encoded so it stays compact inside the
// summary artifact even for high-volume months.
type Serialized struct {
	Algorithm string `json:"algorithm"`
	NumBits   int    `json:"numBits"`
	NumHashes int    `json:"numHashes"`
	Count     uint64 `json:"count"`
	Data      string `json:"data"`
}

const algorithmName = "murmur3_128"

// Serialize converts the filter to its JSON-embeddable form.
func (f *Filter) Serialize() *Serialized {
	raw := make([]byte, len(f.bits)*8)
	for i, word := range f.bits {
		binary.LittleEndian.PutUint64(raw[i*8:], word)
	}

	compressed := snappy.Encode(nil, raw)
	return &Serialized{
		Algorithm: algorithmName,
		NumBits:   int(f.numBits),
		NumHashes: int(f.numHashes),
		Count:     f.count,
		Data:      base64.StdEncoding.EncodeToString(compressed),
	}
}

// Deserialize reconstructs a Filter from its serialized form.
func Deserialize(s *Serialized) (*Filter, error) {
	if s.Algorithm != algorithmName {
		return nil, fmt.Errorf("bloom: unsupported algorithm %q", s.Algorithm)
	}
	if s.NumBits <= 0 || s.NumBits%64 != 0 {
		return nil, fmt.Errorf("bloom: invalid bit count %d", s.NumBits)
	}
	if s.NumHashes <= 0 {
		return nil, fmt.Errorf("bloom: invalid hash count %d", s.NumHashes)
	}

	compressed, err := base64.StdEncoding.DecodeString(s.Data)
	if err != nil {
		return nil, fmt.Errorf("bloom: failed to decode bit array: %w", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("bloom: failed to decompress bit array: %w", err)
	}
	if len(raw) != s.NumBits/8 {
		return nil, fmt.Errorf("bloom: bit array length %d does not match numBits %d", len(raw), s.NumBits)
	}

	f := &Filter{
		bits:      make([]uint64, s.NumBits/64),
		numBits:   uint64(s.NumBits),
		numHashes: uint64(s.NumHashes),
		count:     s.Count,
	}
	for i := range f.bits {
		f.bits[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return f, nil
}
