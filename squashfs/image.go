// Package squashfs reads version 4 SquashFS images: it decodes the
// superblock and metadata tables, materializes the directory hierarchy and
// serves random-access reads of regular file content.
package squashfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/RetroBat-Official/emulatorlauncher-sub011/common"
)

var (
	// ErrNotFound is returned when no file has the requested path.
	ErrNotFound = errors.New("squashfs: file not found")
	// ErrIsDir is returned when content is requested for a directory.
	ErrIsDir = errors.New("squashfs: is a directory")
	// ErrClosed is returned by an image after Close.
	ErrClosed = errors.New("squashfs: image closed")
)

// CopyChunkSize is the read size used when streaming a file out of an image.
const CopyChunkSize = 128 << 10

// File describes a directory or regular file of an image.
type File struct {
	Path        string
	IsDir       bool
	ModTime     time.Time
	Size        int64
	Mode        fs.FileMode
	UID         uint32
	GID         uint32
	InodeNumber uint32

	layout fileLayout
}

// Image is an open SquashFS image. It is not safe for concurrent use.
type Image struct {
	closer io.Closer
	r      io.ReaderAt
	sb     *Superblock
	comp   Compressor
	ids    []uint32
	dirs   *dirReader
	data   *dataReader

	files  []File
	byPath map[string]int
	closed bool
}

// Open opens the image at path. On failure every handle acquired so far is
// released and no partial image is returned.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	img, err := newImage(f, f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return img, nil
}

// NewImage reads an image from r. Closing the image does not close r.
func NewImage(r io.ReaderAt) (*Image, error) {
	return newImage(r, nil)
}

func newImage(r io.ReaderAt, closer io.Closer) (*Image, error) {
	sb, err := readSuperblock(r)
	if err != nil {
		return nil, err
	}
	comp, err := newCompressor(sb.Compression)
	if err != nil {
		return nil, err
	}

	img := &Image{r: r, sb: sb, comp: comp}
	if err := img.load(); err != nil {
		img.release()
		return nil, err
	}
	img.closer = closer
	return img, nil
}

func (img *Image) load() error {
	var err error
	img.ids, err = readIDTable(img.r, img.comp, img.sb)
	if err != nil {
		return err
	}

	img.dirs = newDirReader(img.r, img.comp, img.sb)
	img.data, err = newDataReader(img.r, img.comp, img.sb)
	if err != nil {
		return err
	}

	// hard links share inodes, so only directories are bounded by the count
	t, err := buildTree(img.dirs, img.sb.RootInode, int(img.sb.InodeCount))
	if err != nil {
		return err
	}
	return img.flatten(t)
}

func (img *Image) flatten(t *tree) error {
	img.byPath = make(map[string]int)
	return t.walk(func(i int, p string) error {
		in := t.nodes[i].inode
		f := File{
			Path:        p,
			ModTime:     time.Unix(int64(in.ModTime), 0),
			Mode:        fs.FileMode(in.Mode&0o777) | in.Type.Mode(),
			InodeNumber: in.Number,
		}

		switch in.Payload.(type) {
		case DirInode, ExtDirInode:
			f.IsDir = true
		case FileInode, ExtFileInode:
			f.layout, _ = in.layout()
			f.Size = int64(f.layout.size)
		default:
			return nil
		}

		var err error
		if f.UID, err = img.id(in.UIDIndex); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		if f.GID, err = img.id(in.GIDIndex); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}

		if _, dup := img.byPath[p]; dup {
			return nil
		}
		img.byPath[p] = len(img.files)
		img.files = append(img.files, f)
		return nil
	})
}

func (img *Image) id(index uint16) (uint32, error) {
	if int(index) >= len(img.ids) {
		return 0, fmt.Errorf("squashfs: id index %d out of range", index)
	}
	return img.ids[index], nil
}

// Superblock returns a copy of the image header.
func (img *Image) Superblock() Superblock {
	return *img.sb
}

// Files lists directories and regular files in pre-order.
func (img *Image) Files() []File {
	out := make([]File, len(img.files))
	copy(out, img.files)
	return out
}

// Lookup finds a file by its path inside the image.
func (img *Image) Lookup(name string) (File, bool) {
	i, ok := img.byPath[common.NormalizeName(name)]
	if !ok {
		return File{}, false
	}
	return img.files[i], true
}

// ReadAt reads len(p) bytes of f's content starting at off.
func (img *Image) ReadAt(f *File, p []byte, off int64) (int, error) {
	if img.closed {
		return 0, ErrClosed
	}
	if f.IsDir {
		return 0, fmt.Errorf("%s: %w", f.Path, ErrIsDir)
	}
	return img.data.readAt(f.layout, p, off)
}

// CopyFile streams the content of the named file to w.
func (img *Image) CopyFile(name string, w io.Writer) (int64, error) {
	if img.closed {
		return 0, ErrClosed
	}
	f, ok := img.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if f.IsDir {
		return 0, fmt.Errorf("%s: %w", name, ErrIsDir)
	}

	buf := make([]byte, CopyChunkSize)
	var written int64
	for written < f.Size {
		n, err := img.ReadAt(&f, buf, written)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, fmt.Errorf("reading %s at %d: %w", name, written, err)
		}
	}
	if written != f.Size {
		return written, fmt.Errorf("%s: read %d of %d bytes: %w", name, written, f.Size, io.ErrUnexpectedEOF)
	}
	return written, nil
}

// ExtractFile writes the named file to dest, creating parent directories
// and replacing an existing file.
func (img *Image) ExtractFile(name, dest string) error {
	f, ok := img.Lookup(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if f.IsDir {
		return fmt.Errorf("%s: %w", name, ErrIsDir)
	}

	out, err := common.CreateFile(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	_, err = img.CopyFile(name, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if !f.ModTime.IsZero() {
		if err := os.Chtimes(dest, f.ModTime, f.ModTime); err != nil {
			return fmt.Errorf("setting times of %s: %w", dest, err)
		}
	}
	return nil
}

// Close releases the directory reader, the data reader, the compressor and
// the underlying file. Later calls return nil.
func (img *Image) Close() error {
	if img.closed {
		return nil
	}
	img.closed = true
	return img.release()
}

func (img *Image) release() error {
	var result *multierror.Error
	if img.dirs != nil {
		img.dirs.release()
		img.dirs = nil
	}
	if img.data != nil {
		img.data.release()
		img.data = nil
	}
	if img.comp != nil {
		if err := img.comp.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing compressor: %w", err))
		}
		img.comp = nil
	}
	if img.closer != nil {
		if err := img.closer.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing image file: %w", err))
		}
		img.closer = nil
	}
	return result.ErrorOrNil()
}
