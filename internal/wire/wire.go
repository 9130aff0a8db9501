// Package wire is the on-the-wire encoding for emitted-event metadata: a
// self-describing JSON document carrying a CheckpointTag, a
// ProjectionVersion, and any caller-supplied extra fields. Binary extra
// fields are msgpack-encoded and embedded as base64 under "extraBinary",
// the same way utils/rpc/msgpack2/client.go leans on
// github.com/vmihailenco/msgpack for payloads encoding/json cannot carry
// directly.
package wire

import (
	"encoding/base64"
	"encoding/json"

	msgpack "github.com/vmihailenco/msgpack"
)

// CheckpointTag is an opaque, totally ordered position in a projection's
// source. Sequence is the ordering key; Source identifies which partition
// or shard it came from, for sources with more than one.
type CheckpointTag struct {
	Source   string `json:"source"`
	Sequence int64  `json:"sequence"`
}

// Less, Greater and Equal give CheckpointTag a strict total order.
func (t CheckpointTag) Less(o CheckpointTag) bool    { return t.Sequence < o.Sequence }
func (t CheckpointTag) Greater(o CheckpointTag) bool { return t.Sequence > o.Sequence }
func (t CheckpointTag) Equal(o CheckpointTag) bool   { return t.Sequence == o.Sequence }

// ProjectionVersion identifies a projection lineage. An emitted stream is
// "ours" only when the most recent event's embedded version matches
// ProjectionID and carries Version >= Epoch.
type ProjectionVersion struct {
	ProjectionID string `json:"projectionId"`
	Epoch        int64  `json:"epoch"`
	Version      int64  `json:"version"`
}

// Owns reports whether other belongs to the same projection lineage at or
// after this version's epoch.
func (v ProjectionVersion) Owns(other ProjectionVersion) bool {
	return other.ProjectionID == v.ProjectionID && other.Version >= v.Epoch
}

// Metadata is the full envelope stored as an emitted event's metadata
// bytes: the CheckpointTag that caused the emit, the emitting projection's
// version, and any extra fields the caller attached.
type Metadata struct {
	Tag         CheckpointTag     `json:"tag"`
	Projection  ProjectionVersion `json:"projection"`
	Extra       map[string]string `json:"extra,omitempty"`
	ExtraBinary []byte            `json:"-"`
}

type envelope struct {
	Tag         CheckpointTag     `json:"tag"`
	Projection  ProjectionVersion `json:"projection"`
	Extra       map[string]string `json:"extra,omitempty"`
	ExtraBinary string            `json:"extraBinary,omitempty"`
}

// Encode serializes m into its wire form. ExtraBinary, if set, is
// msgpack-encoded then base64-embedded since raw bytes do not round-trip
// through encoding/json.
func Encode(m Metadata) ([]byte, error) {
	env := envelope{Tag: m.Tag, Projection: m.Projection, Extra: m.Extra}
	if m.ExtraBinary != nil {
		packed, err := msgpack.Marshal(m.ExtraBinary)
		if err != nil {
			return nil, err
		}
		env.ExtraBinary = base64.StdEncoding.EncodeToString(packed)
	}
	return json.Marshal(env)
}

// Decode parses metadata bytes written by Encode. It is tolerant of
// documents with no "extraBinary" key so older events, or events without
// extra fields, parse cleanly.
func Decode(data []byte) (Metadata, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Metadata{}, err
	}
	m := Metadata{Tag: env.Tag, Projection: env.Projection, Extra: env.Extra}
	if env.ExtraBinary != "" {
		packed, err := base64.StdEncoding.DecodeString(env.ExtraBinary)
		if err != nil {
			return Metadata{}, err
		}
		var raw []byte
		if err := msgpack.Unmarshal(packed, &raw); err != nil {
			return Metadata{}, err
		}
		m.ExtraBinary = raw
	}
	return m, nil
}
