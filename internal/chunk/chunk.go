// Package chunk implements a single fixed-capacity segment of the
// transaction log: its on-disk header/footer layout, content checksum, and
// the ongoing/completed lifecycle. The binary layout is explicitly
// little-endian per field (encoding/binary), matching executor/wal.go's
// TransactionGroup.Checksum [16]byte / validateCheckSum convention for the
// checksum width and algorithm (crypto/md5) but replacing its
// unsafe/reflection-based Serialize helpers with explicit fixed-field
// encoding, since the wire layout here is a hard external contract rather
// than an internal convenience format.
package chunk

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/arborstore/tfdb/internal/chunk/buffile"
	"github.com/arborstore/tfdb/internal/tferrors"
)

const (
	HeaderSize = 32 // version(1) + chunkSize(4) + start(4) + end(4) + scavenged(1) + guid(16) + pad(2)
	FooterSize = 32 // completed(1) + mapPresent(1) + actualSize(4) + physicalSize(4) + mapSize(4) + checksum(16) + pad(2)

	headerVersion byte = 1
)

// Header is the fixed-size prefix of every chunk file.
type Header struct {
	Version          byte
	ChunkSize        int32 // declared body capacity
	ChunkStartNumber int32
	ChunkEndNumber   int32
	IsScavenged      bool
	ChunkID          [16]byte
}

// Footer is the fixed-size trailer present only on completed chunks.
type Footer struct {
	IsCompleted      bool
	IsMap12Bytes     bool
	ActualDataSize   int32
	PhysicalDataSize int32
	MapSize          int32
	Checksum         [16]byte
}

func NewHeader(start, end, chunkSize int32) Header {
	id, err := uuid.NewRandom()
	var raw [16]byte
	if err == nil {
		copy(raw[:], id[:])
	}
	return Header{
		Version:          headerVersion,
		ChunkSize:        chunkSize,
		ChunkStartNumber: start,
		ChunkEndNumber:   end,
		ChunkID:          raw,
	}
}

func (h Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Version
	binary.LittleEndian.PutUint32(buf[1:5], uint32(h.ChunkSize))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(h.ChunkStartNumber))
	binary.LittleEndian.PutUint32(buf[9:13], uint32(h.ChunkEndNumber))
	if h.IsScavenged {
		buf[13] = 1
	}
	copy(buf[14:30], h.ChunkID[:])
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, tferrors.ShortReadError("chunk header")
	}
	h := Header{
		Version:          buf[0],
		ChunkSize:        int32(binary.LittleEndian.Uint32(buf[1:5])),
		ChunkStartNumber: int32(binary.LittleEndian.Uint32(buf[5:9])),
		ChunkEndNumber:   int32(binary.LittleEndian.Uint32(buf[9:13])),
		IsScavenged:      buf[13] != 0,
	}
	copy(h.ChunkID[:], buf[14:30])
	return h, nil
}

func (f Footer) encode() []byte {
	buf := make([]byte, FooterSize)
	if f.IsCompleted {
		buf[0] = 1
	}
	if f.IsMap12Bytes {
		buf[1] = 1
	}
	binary.LittleEndian.PutUint32(buf[2:6], uint32(f.ActualDataSize))
	binary.LittleEndian.PutUint32(buf[6:10], uint32(f.PhysicalDataSize))
	binary.LittleEndian.PutUint32(buf[10:14], uint32(f.MapSize))
	copy(buf[14:30], f.Checksum[:])
	return buf
}

func decodeFooter(buf []byte) (Footer, error) {
	if len(buf) < FooterSize {
		return Footer{}, tferrors.ShortReadError("chunk footer")
	}
	f := Footer{
		IsCompleted:      buf[0] != 0,
		IsMap12Bytes:     buf[1] != 0,
		ActualDataSize:   int32(binary.LittleEndian.Uint32(buf[2:6])),
		PhysicalDataSize: int32(binary.LittleEndian.Uint32(buf[6:10])),
		MapSize:          int32(binary.LittleEndian.Uint32(buf[10:14])),
	}
	copy(f.Checksum[:], buf[14:30])
	return f, nil
}

// Chunk is an open chunk file, either ongoing (tail, appendable) or
// completed (sealed, immutable).
type Chunk struct {
	Path     string
	Header   Header
	Footer   Footer
	fp       *os.File
	bf       *buffile.BufferedFile // body writer for an ongoing chunk, nil once completed
	ongoing  bool
	localLen int32 // bytes of body actually written so far
}

// Create allocates a brand-new ongoing chunk file for appending, with the
// body region pre-sized to chunkSize as executor/wal.go's WAL pre-allocates its
// fixed-size segment.
func Create(path string, start, end, chunkSize int32) (*Chunk, error) {
	fp, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create chunk %s: %w", path, err)
	}
	h := NewHeader(start, end, chunkSize)
	if _, err := fp.WriteAt(h.encode(), 0); err != nil {
		fp.Close()
		return nil, err
	}
	if err := fp.Truncate(int64(HeaderSize) + int64(chunkSize)); err != nil {
		fp.Close()
		return nil, err
	}
	bf, err := buffile.New(path)
	if err != nil {
		fp.Close()
		return nil, err
	}
	return &Chunk{Path: path, Header: h, fp: fp, bf: bf, ongoing: true}, nil
}

// OpenOngoing parses only the header; body-size validation is intentionally
// skipped (the tail may be crash-truncated); this is a documented open
// question.
func OpenOngoing(path string) (*Chunk, error) {
	fp, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	hb := make([]byte, HeaderSize)
	if _, err := io.ReadFull(fp, hb); err != nil {
		fp.Close()
		return nil, tferrors.ShortReadError(path)
	}
	h, err := decodeHeader(hb)
	if err != nil {
		fp.Close()
		return nil, err
	}
	fi, err := fp.Stat()
	if err != nil {
		fp.Close()
		return nil, err
	}
	localLen := int32(fi.Size()) - HeaderSize
	if localLen < 0 {
		localLen = 0
	}
	bf, err := buffile.New(path)
	if err != nil {
		fp.Close()
		return nil, err
	}
	return &Chunk{Path: path, Header: h, fp: fp, bf: bf, ongoing: true, localLen: localLen}, nil
}

// OpenCompleted parses header and footer, validates declared sizes against
// the file length, and optionally verifies the content checksum. Any
// mismatch is reported as BadChunkInDatabase.
func OpenCompleted(path string, verifyHash bool) (*Chunk, error) {
	fp, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	fi, err := fp.Stat()
	if err != nil {
		fp.Close()
		return nil, err
	}

	hb := make([]byte, HeaderSize)
	if _, err := fp.ReadAt(hb, 0); err != nil {
		fp.Close()
		return nil, tferrors.NewCorruptDatabase(tferrors.BadChunkInDatabase, path+": "+err.Error())
	}
	h, err := decodeHeader(hb)
	if err != nil {
		fp.Close()
		return nil, tferrors.NewCorruptDatabase(tferrors.BadChunkInDatabase, path+": "+err.Error())
	}

	fb := make([]byte, FooterSize)
	if _, err := fp.ReadAt(fb, fi.Size()-int64(FooterSize)); err != nil {
		fp.Close()
		return nil, tferrors.NewCorruptDatabase(tferrors.BadChunkInDatabase, path+": "+err.Error())
	}
	f, err := decodeFooter(fb)
	if err != nil {
		fp.Close()
		return nil, tferrors.NewCorruptDatabase(tferrors.BadChunkInDatabase, path+": "+err.Error())
	}

	expectedSize := int64(HeaderSize) + int64(f.ActualDataSize) + int64(FooterSize)
	if !f.IsCompleted || fi.Size() != expectedSize {
		fp.Close()
		return nil, tferrors.NewCorruptDatabase(tferrors.BadChunkInDatabase,
			fmt.Sprintf("%s: size mismatch: file=%d expected=%d completed=%v", path, fi.Size(), expectedSize, f.IsCompleted))
	}

	c := &Chunk{Path: path, Header: h, Footer: f, fp: fp, ongoing: false, localLen: f.ActualDataSize}

	if verifyHash {
		sum, err := c.computeChecksum()
		if err != nil {
			fp.Close()
			return nil, tferrors.NewCorruptDatabase(tferrors.BadChunkInDatabase, path+": "+err.Error())
		}
		if sum != f.Checksum {
			fp.Close()
			return nil, tferrors.NewCorruptDatabase(tferrors.BadChunkInDatabase, path+": checksum mismatch")
		}
	}

	return c, nil
}

func (c *Chunk) computeChecksum() ([16]byte, error) {
	var sum [16]byte
	buf := make([]byte, HeaderSize+int(c.Footer.ActualDataSize))
	if _, err := c.fp.ReadAt(buf, 0); err != nil {
		return sum, err
	}
	return md5.Sum(buf), nil
}

// IsOngoing reports whether the footer has not yet been sealed.
func (c *Chunk) IsOngoing() bool { return c.ongoing }

// LocalLen returns the number of body bytes written so far.
func (c *Chunk) LocalLen() int32 { return c.localLen }

// Append extends the logical body by data, returning the local offset the
// write started at. Fails with ChunkFullError if it would exceed chunkSize.
// The write goes through the chunk's BufferedFile, which groups it with any
// other pending write landing in the same block, then is flushed immediately
// so ReadAt on the chunk's own *os.File observes it right away.
func (c *Chunk) Append(data []byte) (int32, error) {
	if !c.ongoing {
		return 0, tferrors.InvalidOperation("append to completed chunk " + c.Path)
	}
	if c.localLen+int32(len(data)) > c.Header.ChunkSize {
		return 0, tferrors.ChunkFullError(c.Path)
	}
	off := c.localLen
	if _, err := c.bf.WriteAt(data, int64(HeaderSize)+int64(off)); err != nil {
		return 0, err
	}
	if err := c.bf.Flush(); err != nil {
		return 0, err
	}
	c.localLen += int32(len(data))
	return off, nil
}

// ReadAt reads length bytes from the chunk body at localOffset.
func (c *Chunk) ReadAt(localOffset int32, length int32) ([]byte, error) {
	buf := make([]byte, length)
	n, err := c.fp.ReadAt(buf, int64(HeaderSize)+int64(localOffset))
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// Complete writes the footer, computes the checksum over header+body, and
// transitions the chunk from ongoing to completed. Truncates the file to
// its final size first, since the body region was pre-allocated to full
// chunkSize capacity.
func (c *Chunk) Complete() error {
	if !c.ongoing {
		return tferrors.InvalidOperation("complete already-completed chunk " + c.Path)
	}
	if c.bf != nil {
		if err := c.bf.Close(); err != nil {
			return err
		}
		c.bf = nil
	}
	if err := c.fp.Truncate(int64(HeaderSize) + int64(c.localLen)); err != nil {
		return err
	}
	buf := make([]byte, HeaderSize+int(c.localLen))
	if _, err := c.fp.ReadAt(buf, 0); err != nil {
		return err
	}
	sum := md5.Sum(buf)
	c.Footer = Footer{
		IsCompleted:      true,
		ActualDataSize:   c.localLen,
		PhysicalDataSize: c.localLen,
		Checksum:         sum,
	}
	if _, err := c.fp.WriteAt(c.Footer.encode(), int64(HeaderSize)+int64(c.localLen)); err != nil {
		return err
	}
	if err := c.fp.Sync(); err != nil {
		return err
	}
	c.ongoing = false
	return nil
}

func (c *Chunk) Close() error {
	if c.bf != nil {
		if err := c.bf.Close(); err != nil {
			return err
		}
	}
	return c.fp.Close()
}
