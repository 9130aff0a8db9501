package tfdb

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/arborstore/tfdb/internal/tferrors"
)

// Position identifies a record's location in the global log. Commit is the
// offset the record starts at. No read in this package returns a Position,
// and every appended record, including each event of a committed
// transaction, starts at its own offset.
type Position struct {
	Commit  int64
	Prepare int64
}

// Record is the minimal envelope every appended log record carries,
// independent of stream-level semantics, so ReadAllEventsForward/Backward
// can skip unparseable or foreign bytes during a raw scan. Field order and
// widths mirror executor/wal.go's serializeTG/ParseTGData length-prefixed
// layout in executor/wal.go.
type Record struct {
	StreamID    string
	EventNumber int64
	EventID     uuid.UUID
	EventType   string
	Data        []byte
	Metadata    []byte
}

// Encode serializes r into its on-log byte form:
// recordLength(u32) | streamIdLen(u16) | streamId | eventNumber(i64) |
// eventId(16) | eventTypeLen(u16) | eventType | dataLen(u32) | data |
// metadataLen(u32) | metadata | crc32(u32)
func (r Record) Encode() []byte {
	body := make([]byte, 0, 64+len(r.Data)+len(r.Metadata))

	body = appendU16String(body, r.StreamID)
	var evNum [8]byte
	binary.LittleEndian.PutUint64(evNum[:], uint64(r.EventNumber))
	body = append(body, evNum[:]...)
	body = append(body, r.EventID[:]...)
	body = appendU16String(body, r.EventType)
	body = appendU32Bytes(body, r.Data)
	body = appendU32Bytes(body, r.Metadata)

	sum := crc32.ChecksumIEEE(body)
	var sumBuf [4]byte
	binary.LittleEndian.PutUint32(sumBuf[:], sum)
	body = append(body, sumBuf[:]...)

	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

// DecodeRecord parses one record starting at buf[0], returning the record
// and the total number of bytes it occupied (including the length prefix).
func DecodeRecord(buf []byte) (Record, int, error) {
	if len(buf) < 4 {
		return Record{}, 0, tferrors.ShortReadError("record length prefix")
	}
	recLen := int(binary.LittleEndian.Uint32(buf[:4]))
	if len(buf) < 4+recLen {
		return Record{}, 0, tferrors.ShortReadError("record body")
	}
	body := buf[4 : 4+recLen]
	if len(body) < 4 {
		return Record{}, 0, tferrors.ShortReadError("record checksum")
	}
	payload, sumBuf := body[:len(body)-4], body[len(body)-4:]
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(sumBuf) {
		return Record{}, 0, tferrors.NewCorruptDatabase(tferrors.BadChunkInDatabase, "record checksum mismatch")
	}

	cursor := 0
	streamID, n := readU16String(payload[cursor:])
	cursor += n
	if len(payload) < cursor+8+16+2 {
		return Record{}, 0, tferrors.ShortReadError("record fixed fields")
	}
	eventNumber := int64(binary.LittleEndian.Uint64(payload[cursor : cursor+8]))
	cursor += 8
	var eventID uuid.UUID
	copy(eventID[:], payload[cursor:cursor+16])
	cursor += 16
	eventType, n := readU16String(payload[cursor:])
	cursor += n
	data, n := readU32Bytes(payload[cursor:])
	cursor += n
	metadata, _ := readU32Bytes(payload[cursor:])

	return Record{
		StreamID:    streamID,
		EventNumber: eventNumber,
		EventID:     eventID,
		EventType:   eventType,
		Data:        data,
		Metadata:    metadata,
	}, 4 + recLen, nil
}

func appendU16String(buf []byte, s string) []byte {
	var l [2]byte
	binary.LittleEndian.PutUint16(l[:], uint16(len(s)))
	buf = append(buf, l[:]...)
	return append(buf, s...)
}

func readU16String(buf []byte) (string, int) {
	l := int(binary.LittleEndian.Uint16(buf[:2]))
	return string(buf[2 : 2+l]), 2 + l
}

func appendU32Bytes(buf []byte, data []byte) []byte {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(data)))
	buf = append(buf, l[:]...)
	return append(buf, data...)
}

func readU32Bytes(buf []byte) ([]byte, int) {
	l := int(binary.LittleEndian.Uint32(buf[:4]))
	out := make([]byte, l)
	copy(out, buf[4:4+l])
	return out, 4 + l
}
