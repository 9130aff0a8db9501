// Package tferrors is the named error taxonomy raised by the storage core
// and the emitted-stream projector.
package tferrors

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/arborstore/tfdb/internal/log"
)

// Cause identifies which validation failure a CorruptDatabase wraps.
type Cause int

const (
	BadChunkInDatabase Cause = iota
	ChunkNotFound
	ExtraneousFileFound
	ReaderCheckpointHigherThanWriter
)

func (c Cause) String() string {
	switch c {
	case BadChunkInDatabase:
		return "BadChunkInDatabase"
	case ChunkNotFound:
		return "ChunkNotFound"
	case ExtraneousFileFound:
		return "ExtraneousFileFound"
	case ReaderCheckpointHigherThanWriter:
		return "ReaderCheckpointHigherThanWriter"
	default:
		return "UnknownCause"
	}
}

// CorruptDatabase is returned by Open when the on-disk directory cannot be
// recovered to a consistent state. Fatal to the DB instance: the caller
// must dispose of it.
type CorruptDatabase struct {
	Cause Cause
	Msg   string
}

func (e *CorruptDatabase) Error() string {
	return errReport("%s: CorruptDatabase("+e.Cause.String()+")", e.Msg)
}

// Is allows errors.Is(err, tferrors.NewCorruptDatabase(cause, "")) to match
// on Cause alone.
func (e *CorruptDatabase) Is(target error) bool {
	var t *CorruptDatabase
	if errors.As(target, &t) {
		return t.Cause == e.Cause
	}
	return false
}

// NewCorruptDatabase constructs the error and logs it immediately, since a
// corrupt database is always fatal to the DB instance raising it and may
// otherwise never reach a caller that logs.
func NewCorruptDatabase(cause Cause, msg string) *CorruptDatabase {
	e := &CorruptDatabase{Cause: cause, Msg: msg}
	log.Error("%s", e.Error())
	return e
}

// WrongExpectedVersion is raised by AppendToStream when the caller's
// expected version does not match the stream and the write is not
// idempotent under the rules in streamstore.AppendToStream.
type WrongExpectedVersion string

func (msg WrongExpectedVersion) Error() string {
	return errReport("%s: Wrong expected version", string(msg))
}

// InvalidOperation is raised by the emitted-stream state machine on an
// illegal transition or a projection determinism violation during
// recovery-mode dedup.
type InvalidOperation string

func (msg InvalidOperation) Error() string {
	return errReport("%s: Invalid operation", string(msg))
}

// RestartRequested is a supervisor signal, not a fatal error: another
// writer mutated the target stream concurrently.
type RestartRequested string

func (msg RestartRequested) Error() string {
	return errReport("%s: Restart requested", string(msg))
}

// CannotEstablishConnection models the external transport failure kind
// referenced by the dispatcher contracts; no transport is implemented here.
type CannotEstablishConnection string

func (msg CannotEstablishConnection) Error() string {
	return errReport("%s: Cannot establish connection", string(msg))
}

type ShortReadError string

func (msg ShortReadError) Error() string {
	return errReport("%s: Unexpectedly short read", string(msg))
}

type ChunkFullError string

func (msg ChunkFullError) Error() string {
	return errReport("%s: Append would exceed chunk size", string(msg))
}

type StreamNotFoundError string

func (msg StreamNotFoundError) Error() string {
	return errReport("%s: Stream not found", string(msg))
}

// TimeoutKind distinguishes the transient dispatcher failures that the
// emitter retries: the pending event stays queued and is attempted again
// on the next Drain. The number of attempts is not limited.
type TimeoutKind string

const (
	PrepareTimeout TimeoutKind = "PrepareTimeout"
	ForwardTimeout TimeoutKind = "ForwardTimeout"
	CommitTimeout  TimeoutKind = "CommitTimeout"
)

func (k TimeoutKind) Error() string {
	return errReport("%s: operation timed out", string(k))
}

// IsTimeout reports whether err is one of the transient timeout kinds the
// emitter's write-retry loop understands.
func IsTimeout(err error) bool {
	var k TimeoutKind
	return errors.As(err, &k)
}

func errReport(base, msg string) string {
	return callerFileContext(2) + ":" + fmt.Sprintf(base, msg)
}

// callerFileContext mirrors utils/io.GetCallerFileContext:
// "file.go:line" for the caller `skip` frames up, used to prefix error
// messages with their origin without a full stack trace.
func callerFileContext(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown:0"
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
