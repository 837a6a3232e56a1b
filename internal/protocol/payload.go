package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Entry is one key/value pair of a payload.
type Entry struct {
	Key   string
	Value string
}

// Payload is an insertion-ordered string mapping. Some handlers read values
// positionally, so order survives encoding.
type Payload struct {
	entries []Entry
}

// NewPayload builds a payload from alternating key, value arguments. A
// trailing key without a value is stored with an empty value.
func NewPayload(kv ...string) Payload {
	var p Payload
	for i := 0; i < len(kv); i += 2 {
		v := ""
		if i+1 < len(kv) {
			v = kv[i+1]
		}
		p.Set(kv[i], v)
	}
	return p
}

// PayloadOf builds a payload from entries, later duplicates replacing earlier ones.
func PayloadOf(entries ...Entry) Payload {
	var p Payload
	for _, e := range entries {
		p.Set(e.Key, e.Value)
	}
	return p
}

func (p Payload) Len() int {
	return len(p.entries)
}

func (p Payload) Empty() bool {
	return len(p.entries) == 0
}

func (p Payload) Get(key string) (string, bool) {
	for _, e := range p.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Set replaces the value of an existing key in place or appends a new entry.
func (p *Payload) Set(key, value string) {
	for i := range p.entries {
		if p.entries[i].Key == key {
			p.entries[i].Value = value
			return
		}
	}
	p.entries = append(p.entries, Entry{Key: key, Value: value})
}

// With returns a copy of p with key set; p is left untouched.
func (p Payload) With(key, value string) Payload {
	out := p.Clone()
	out.Set(key, value)
	return out
}

// Merge returns a copy of p with every entry of other applied in order.
func (p Payload) Merge(other Payload) Payload {
	out := p.Clone()
	for _, e := range other.entries {
		out.Set(e.Key, e.Value)
	}
	return out
}

func (p Payload) Clone() Payload {
	if len(p.entries) == 0 {
		return Payload{}
	}
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return Payload{entries: out}
}

func (p Payload) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

func (p Payload) Keys() []string {
	out := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.Key)
	}
	return out
}

func (p Payload) Values() []string {
	out := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.Value)
	}
	return out
}

// First returns the positionally first entry.
func (p Payload) First() (Entry, bool) {
	if len(p.entries) == 0 {
		return Entry{}, false
	}
	return p.entries[0], true
}

// Int parses the value under key as a base-10 integer.
func (p Payload) Int(key string) (int, error) {
	raw, ok := p.Get(key)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingPayloadKey, key)
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidPayload, key)
	}
	return v, nil
}

// MarshalJSON writes entries in order. Keys and values must be valid UTF-8;
// JSON would otherwise replace the invalid bytes and the round trip would
// not be exact.
func (p Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p.entries {
		if !utf8.ValidString(e.Key) || !utf8.ValidString(e.Value) {
			return nil, fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidPayload, e.Key)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object of string values keeping document order.
func (p *Payload) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = Payload{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: payload must be an object", ErrInvalidPayload)
	}
	var out Payload
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("%w: non-string key", ErrInvalidPayload)
		}
		valTok, err := dec.Token()
		if err != nil {
			return err
		}
		val, ok := valTok.(string)
		if !ok {
			return fmt.Errorf("%w: value of %q must be a string", ErrInvalidPayload, key)
		}
		out.Set(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

func (p Payload) String() string {
	parts := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		parts = append(parts, e.Key+"="+e.Value)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
