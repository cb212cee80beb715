// Package canonicaljson produces the canonical JSON byte form the spec
// requires for payload_hash and determinism_hash: object keys sorted
// recursively, compact separators, UTF-8. It never re-marshals a Go map
// (whose key order Go leaves unspecified) — every encode walks a
// json.RawMessage / decoded value tree explicitly so the output is
// byte-for-byte reproducible across processes and across runs.
package canonicaljson

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal returns the canonical JSON encoding of v: object keys sorted
// recursively, no insignificant whitespace.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: marshal: %w", err)
	}
	return Canonicalize(raw)
}

// Canonicalize re-encodes an arbitrary JSON byte slice into canonical form.
func Canonicalize(raw []byte) ([]byte, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicaljson: decode: %w", err)
	}
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		// strings, json.Number, bool, nil all round-trip correctly through
		// the stdlib encoder with compact separators.
		enc := json.NewEncoder(buf)
		enc.SetEscapeHTML(false)
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		// json.Marshal never appends insignificant whitespace for scalars.
		buf.Write(b)
	}
	return nil
}

// SHA256 returns the hex-independent raw SHA-256 digest of the canonical
// JSON encoding of v.
func SHA256(v interface{}) ([32]byte, error) {
	canon, err := Marshal(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(canon), nil
}

// SHA256Hex returns the hex-encoded SHA-256 digest of the canonical JSON
// encoding of v.
func SHA256Hex(v interface{}) (string, error) {
	sum, err := SHA256(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", sum), nil
}

// HashLines computes SHA-256 over a newline-joined set of pre-formatted
// lines, used by the event store to compute the determinism hash over a
// `global_seq|event_id|kind|payload_hash` line per event (spec §4.1).
func HashLines(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
