package braid

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"math"
	"slices"
	"time"
)

// SampleHash is a consistent hash (i.e., content address) over a sample
// snapshot: its schematic, its events in position order, and its edges in
// commit order. Two snapshots with the same SampleHash describe the same graph,
// regardless of which journal they were rebuilt from.
//
// The versionstamp itself is not hashed; it is the key the hash is stored
// under.
type SampleHash contentAddress

func (h SampleHash) MarshalText() ([]byte, error)     { return contentAddress(h).MarshalText() }
func (h *SampleHash) UnmarshalText(text []byte) error { return (*contentAddress)(h).UnmarshalText(text) }
func (h SampleHash) String() string                   { return "sample(" + contentAddress(h).String() + ")" }
func (h SampleHash) IsZero() bool                     { return contentAddress(h).IsZero() }

func hashSample(s *Sample) SampleHash {
	h := sha1.New()
	d := digest{h}
	d.bytes(s.id[:])
	d.schematic(s.schematic, false)
	d.params(s.params)
	for _, e := range s.events {
		d.bytes(e.ID[:])
		d.uint(uint64(e.Type))
		d.string(e.Subtype)
		d.schematic(e.Schematic, true)
		d.params(e.Params)
		d.string(e.Template.Key.String())
		d.uint(uint64(e.Template.Version))
		d.string(e.Method.ID)
		d.uint(uint64(e.Method.Version))
		d.bytes(e.Actor[:])
	}
	for _, x := range s.edges {
		d.bytes(x.From[:])
		d.bytes(x.To[:])
		d.uint(uint64(x.Kind))
		if x.Ingredient != nil {
			d.float(x.Ingredient.Amount)
			d.string(x.Ingredient.Unit)
		}
	}
	return SampleHash(h.Sum(nil))
}

// digest writes length-prefixed values so that adjacent fields cannot collide.
type digest struct{ hash.Hash }

func (d digest) uint(v uint64) {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, v)
	d.Write(buf[:n])
}

func (d digest) bytes(b []byte) {
	d.uint(uint64(len(b)))
	d.Write(b)
}

func (d digest) string(s string) { d.bytes([]byte(s)) }

func (d digest) float(f float64) { d.uint(math.Float64bits(f)) }

func (d digest) time(t time.Time) { d.uint(uint64(t.UnixNano())) }

func (d digest) schematic(s Schematic, positioned bool) {
	d.string(s.Name)
	d.bytes(s.GlobalID[:])
	if positioned {
		// An event's versionstamp is the sample version that committed it, which is
		// content; the sample's own versionstamp is the key and is skipped.
		d.uint(uint64(s.GlobalPosition))
		d.uint(s.Versionstamp)
	}
	d.time(s.Timestamp)
	d.string(s.Description)
	d.uint(uint64(len(s.Tags)))
	for _, t := range s.Tags {
		d.string(t)
	}
	d.string(string(s.Status))
}

func (d digest) params(m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// sorted keys keep the hash independent of map iteration order
	slices.Sort(keys)
	d.uint(uint64(len(keys)))
	for _, k := range keys {
		d.string(k)
		d.value(m[k])
	}
}

// value hashes the normalised parameter types produced by coerce. Each value is
// prefixed by a type tag so that e.g. "1" and 1 differ.
func (d digest) value(v any) {
	switch x := v.(type) {
	case string:
		d.uint(1)
		d.string(x)
	case bool:
		d.uint(2)
		if x {
			d.uint(1)
		} else {
			d.uint(0)
		}
	case float64:
		d.uint(3)
		d.float(x)
	case int64:
		d.uint(4)
		d.uint(uint64(x))
	case time.Time:
		d.uint(5)
		d.time(x)
	case []string:
		d.uint(6)
		d.uint(uint64(len(x)))
		for _, s := range x {
			d.string(s)
		}
	case map[string]any:
		d.uint(7)
		d.params(x)
	default:
		// coerce never produces other types; reaching here means a snapshot was built
		// around the parameter schema.
		panic(fmt.Sprintf("braid: un-hashable parameter value of type %T", v))
	}
}

// contentAddress is a consistent hash primitive serving as the base for strongly
// typed hashes, like SampleHash.
type contentAddress [sha1.Size]byte

func (h contentAddress) MarshalText() ([]byte, error) {
	text := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(text, h[:]) // always returns hex.EncodedLen(len(h)) (see hex.Encode)
	return text, nil
}

func (h *contentAddress) UnmarshalText(text []byte) error {
	n, err := hex.Decode(h[:], text)
	if err != nil {
		return fmt.Errorf("decode hex: %w", err)
	}
	if n != len(h) { // always n <= len(h[:]) (see hex.Decode)
		return fmt.Errorf("not enough bytes: %w", io.ErrUnexpectedEOF)
	}
	return nil
}

func (h contentAddress) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero value of the type.
func (h contentAddress) IsZero() bool {
	return h == contentAddress{}
}
