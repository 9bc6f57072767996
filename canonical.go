package farmproof

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// CanonicalJSON encodes v deterministically for hashing: object keys are
// sorted lexicographically at every depth, array order is preserved, and
// scalars use standard JSON encoding. Two values that differ only in key
// order or source whitespace produce identical bytes.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case map[string]any:
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
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(val.String())
	case string, bool, float64:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	default:
		// Arbitrary Go values (structs, typed maps, ints) round-trip
		// through encoding/json into the shapes handled above.
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canonical: %w", err)
		}
		decoded, err := decodeJSON(b)
		if err != nil {
			return fmt.Errorf("canonical: %w", err)
		}
		return writeCanonical(buf, decoded)
	}
	return nil
}

// decodeJSON parses raw JSON into generic values, keeping numbers as
// json.Number so their source form survives re-encoding.
func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// LeafHash computes the leaf digest of a payload: lowercase-hex SHA-256 of
// its canonical form.
func LeafHash(payload any) (string, error) {
	b, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// LeafHashRaw computes the leaf digest of a raw JSON payload.
func LeafHashRaw(raw json.RawMessage) (string, error) {
	v, err := decodeJSON(raw)
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	return LeafHash(v)
}

// DayKey buckets a timestamp into its UTC calendar date, YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// PayloadTimestamp extracts an RFC 3339 "timestamp" field from a raw JSON
// payload, when present and well-formed.
func PayloadTimestamp(raw json.RawMessage) (time.Time, bool) {
	v, err := decodeJSON(raw)
	if err != nil {
		return time.Time{}, false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	s, ok := obj["timestamp"].(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
