package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type ValueKind string

const (
	KindInt    ValueKind = "int"
	KindLong   ValueKind = "long"
	KindDouble ValueKind = "double"
	KindString ValueKind = "string"
)

// Value is one typed entry of a DataMap. Exactly one of the value fields is
// meaningful, selected by Kind.
type Value struct {
	Kind   ValueKind `json:"t"`
	Int    int64     `json:"i,omitempty"`
	Double float64   `json:"d,omitempty"`
	String string    `json:"s,omitempty"`
}

// DataMap is the typed key/value payload of a replicated record. Getters
// return the zero value when a key is absent or holds another kind.
type DataMap map[string]Value

func NewDataMap() DataMap {
	return make(DataMap)
}

func (m DataMap) PutInt(key string, v int) {
	m[key] = Value{Kind: KindInt, Int: int64(v)}
}

func (m DataMap) PutLong(key string, v int64) {
	m[key] = Value{Kind: KindLong, Int: v}
}

func (m DataMap) PutDouble(key string, v float64) {
	m[key] = Value{Kind: KindDouble, Double: v}
}

func (m DataMap) PutString(key string, v string) {
	m[key] = Value{Kind: KindString, String: v}
}

func (m DataMap) GetInt(key string) int {
	if v, ok := m[key]; ok && v.Kind == KindInt {
		return int(v.Int)
	}
	return 0
}

func (m DataMap) GetLong(key string) int64 {
	if v, ok := m[key]; ok && v.Kind == KindLong {
		return v.Int
	}
	return 0
}

func (m DataMap) GetDouble(key string) float64 {
	if v, ok := m[key]; ok && v.Kind == KindDouble {
		return v.Double
	}
	return 0
}

func (m DataMap) GetString(key string) string {
	if v, ok := m[key]; ok && v.Kind == KindString {
		return v.String
	}
	return ""
}

func (m DataMap) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Canonical returns a stable encoding of the map. encoding/json sorts map
// keys, so two maps with the same entries encode to the same bytes.
func (m DataMap) Canonical() []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	data, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("marshal data map: %v", err))
	}
	return data
}

// Equal reports whether both maps hold the same typed entries.
func (m DataMap) Equal(other DataMap) bool {
	return bytes.Equal(m.Canonical(), other.Canonical())
}
