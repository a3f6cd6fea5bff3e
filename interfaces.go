package archiver

import (
	"context"
	"io"
)

// Format represents a compression format.
type Format interface {
	// Name returns the name of the format, which is also its usual
	// file extension (".gz").
	Name() string

	// Match returns true if the given name/stream is recognized.
	// One of the arguments is optional: filename might be empty
	// if working with an unnamed stream, or stream might be
	// nil if only working with a filename. The filename should
	// consist only of the base name, not a path component. Match
	// reads only as many bytes as needed to determine a match.
	Match(filename string, stream io.Reader) (MatchResult, error)
}

// Decompressor can decompress data by wrapping a reader.
type Decompressor interface {
	// OpenReader wraps r with a new reader that decompresses what is read.
	// The reader must be closed when reading is finished.
	OpenReader(r io.Reader) (io.ReadCloser, error)
}

// Compression is a compression format that can be read.
type Compression interface {
	Format
	Decompressor
}

// callbackDecoder is implemented by backends that extract by calling
// back into an ExtractCallback once per requested entry, the way 7-Zip
// style decoders do. indices refer to the archive's entry listing.
type callbackDecoder interface {
	Extract(ctx context.Context, indices []int, cb ExtractCallback) error
}

// opener opens one kind of archive from a path. Openers are tried in
// order by the Unarchiver until one succeeds.
type opener interface {
	Name() string
	OpenArchive(path string, cfg *Config) (Archive, error)
}
