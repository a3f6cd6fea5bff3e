// Package archiver opens archives of unknown format (ZIP, 7z, RAR, tar,
// single-stream compressed files and SquashFS images), lists their
// contents uniformly and extracts them with progress reporting, optional
// passwords and a choice of path layouts.
//
// The Unarchiver type is the entry point:
//
//	u := archiver.New()
//	a, err := u.Open("game.7z")
//	if err != nil {
//		return err
//	}
//	defer a.Close()
//	err = a.Extract(ctx, "roms", archiver.ExtractOptions{Mode: archiver.SkipRootFolder})
package archiver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Entry describes one file or directory of an archive. The exported
// fields are plain values and stay valid after the archive is closed.
type Entry struct {
	// Filename is the slash separated path inside the archive, without
	// leading or trailing slashes.
	Filename     string
	IsDirectory  bool
	LastModified time.Time
	// Length is the uncompressed size; 0 for directories and when the
	// backend cannot know it.
	Length int64
	// CRC32 is 0 when the backend does not store a checksum.
	CRC32 uint32

	// backend specific handle used to resolve content
	ref any
}

func (e Entry) String() string {
	if e.IsDirectory {
		return e.Filename + "/"
	}
	return e.Filename
}

// ExtractionMode controls how archive paths map onto the destination.
type ExtractionMode int

const (
	// Normal keeps the archive's internal layout.
	Normal ExtractionMode = iota
	// SkipRootFolder strips a single top-level directory if, and only
	// if, it wraps the whole archive.
	SkipRootFolder
	// Flat writes every file directly into the destination. Later files
	// with the same base name overwrite earlier ones.
	Flat
)

func (m ExtractionMode) String() string {
	switch m {
	case Normal:
		return "normal"
	case SkipRootFolder:
		return "skip-root-folder"
	case Flat:
		return "flat"
	}
	return fmt.Sprintf("ExtractionMode(%d)", int(m))
}

// ProgressFunc receives extraction progress as a percentage in [0, 100].
type ProgressFunc func(percent int)

// ExtractOptions select what is extracted and how.
type ExtractOptions struct {
	// FileName restricts extraction to one entry, or to a directory and
	// everything below it. Empty means everything.
	FileName string
	// OnProgress is optional. Backends that cannot compute a total size
	// never call it.
	OnProgress ProgressFunc
	Mode       ExtractionMode
	// Password overrides the password configured on the Unarchiver.
	Password string
}

// Archive is an open archive. Implementations are not safe for
// concurrent use.
type Archive interface {
	// Entries returns the listing computed when the archive was opened.
	Entries() []Entry

	// Extract writes the selected entries below destination, creating
	// directories as needed and overwriting existing files.
	//
	// Context cancellation is honored between entries.
	Extract(ctx context.Context, destination string, opts ExtractOptions) error

	// Close releases every resource held by the archive. Calling it more
	// than once is harmless.
	Close() error
}

var (
	// ErrNoMatch is returned when no backend can open a file.
	ErrNoMatch = errors.New("no formats matched")

	// ErrEntryNotFound is returned when ExtractOptions.FileName names
	// nothing in the archive.
	ErrEntryNotFound = errors.New("entry not found in archive")

	// ErrClosed is returned by an archive used after Close.
	ErrClosed = errors.New("archive is closed")

	// ErrChecksum is returned when extracted content does not match the
	// checksum recorded in the archive, which is how a wrong password
	// shows up in 7z archives.
	ErrChecksum = errors.New("checksum mismatch")
)
