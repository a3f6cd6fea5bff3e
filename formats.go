package archiver

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
)

// RegisterFormat registers a compression format. It should be called
// during init. Duplicate formats by name are not allowed and will panic.
func RegisterFormat(format Compression) {
	name := strings.Trim(strings.ToLower(format.Name()), ".")
	if _, ok := formats[name]; ok {
		panic("format " + name + " is already registered")
	}
	formats[name] = format
}

// Identify returns the registered compression format matching the given
// filename and/or stream. A match on the stream's header outranks a match
// on the name; ties go to the format whose name sorts first. The stream
// position is restored before returning.
//
// If no matching formats were found, special error ErrNoMatch is returned.
func Identify(filename string, stream io.ReadSeeker) (Compression, MatchResult, error) {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)

	var best Compression
	var bestResult MatchResult
	bestScore := 0
	for _, name := range names {
		format := formats[name]
		mr, err := identifyOne(format, filename, stream)
		if err != nil {
			return nil, MatchResult{}, fmt.Errorf("matching %s: %w", name, err)
		}
		if score := mr.score(); score > bestScore {
			best, bestResult, bestScore = format, mr, score
		}
	}
	if best == nil {
		return nil, MatchResult{}, ErrNoMatch
	}
	return best, bestResult, nil
}

func identifyOne(format Format, filename string, stream io.ReadSeeker) (MatchResult, error) {
	if stream == nil {
		// shimming an empty stream is easier than hoping every format's
		// implementation of Match() expects and handles a nil stream
		stream = strings.NewReader("")
	}

	// reset stream position to beginning, then restore current position when done
	previousOffset, err := stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return MatchResult{}, err
	}
	_, err = stream.Seek(0, io.SeekStart)
	if err != nil {
		return MatchResult{}, err
	}
	defer stream.Seek(previousOffset, io.SeekStart)

	return format.Match(filepath.Base(filename), stream)
}

// trimCompressionExt removes the extension from filename if it is one
// the format recognizes by name ("rom.bin.gz" -> "rom.bin").
func trimCompressionExt(filename string, format Format) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return filename
	}
	if mr, err := format.Match(ext, nil); err == nil && mr.ByName {
		return strings.TrimSuffix(filename, ext)
	}
	return filename
}

// readAtMost reads at most n bytes from the stream. A nil, empty, or short
// stream is not an error. The returned slice of bytes may have length < n
// without an error.
func readAtMost(stream io.Reader, n int) ([]byte, error) {
	if stream == nil || n <= 0 {
		return []byte{}, nil
	}

	buf := make([]byte, n)
	nr, err := io.ReadFull(stream, buf)

	// Return the bytes read if there was no error OR if the
	// error was EOF (stream was empty) or UnexpectedEOF (stream
	// had less than n). We ignore those errors because we aren't
	// required to read the full n bytes; so an empty or short
	// stream is not actually an error.
	if err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return buf[:nr], nil
	}

	return nil, err
}

// MatchResult returns true if the format was matched either
// by name, stream, or both. Name usually refers to matching
// by file extension, and stream usually refers to reading
// the first few bytes of the stream (its header). A stream
// match is generally stronger, as filenames are not always
// indicative of their contents if they even exist at all.
type MatchResult struct {
	ByName, ByStream bool
}

// Matched returns true if a match was made by either name or stream.
func (mr MatchResult) Matched() bool { return mr.ByName || mr.ByStream }

func (mr MatchResult) score() int {
	s := 0
	if mr.ByStream {
		s += 2
	}
	if mr.ByName {
		s++
	}
	return s
}

// Registered formats.
var formats = make(map[string]Compression)
