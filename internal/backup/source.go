package backup

import (
	"io"
	"time"
)

// FileMeta carries the per-file metadata a source adapter reports alongside
// its byte stream.
type FileMeta struct {
	Modified time.Time
	Mode     *uint32 // nil on hosts without POSIX permission bits
}

// Entry is one (logical_path, reader, metadata) tuple produced by a source
// adapter during enumeration.
type Entry struct {
	LogicalPath string
	Meta        FileMeta
	Open        func() (io.ReadCloser, error)
}

// Source enumerates a finite set of files to back up. Concrete adapters —
// local filesystem, remote device, in-memory fixture — implement this; the
// engine makes no assumption about the backing store.
type Source interface {
	// Enumerate returns every entry to include in the backup. The engine
	// does not require any particular ordering; the manifest sorts files
	// by logical path regardless.
	Enumerate() ([]Entry, error)
}
