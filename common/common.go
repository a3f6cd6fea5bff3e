package common

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

func Mkdir(dirPath string, dirMode os.FileMode) error {
	err := os.MkdirAll(dirPath, dirMode)
	if err != nil {
		return fmt.Errorf("%s: making directory: %v", dirPath, err)
	}
	return nil
}

// CreateFile creates (or truncates) the file at fpath, making parent
// directories as needed.
func CreateFile(fpath string) (*os.File, error) {
	err := os.MkdirAll(filepath.Dir(fpath), 0755)
	if err != nil {
		return nil, fmt.Errorf("%s: making directory for file: %v", fpath, err)
	}

	out, err := os.OpenFile(fpath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%s: creating new file: %w", fpath, err)
	}
	return out, nil
}

// RemoveIfExists deletes a pre-existing regular file or symlink at fpath.
func RemoveIfExists(fpath string) error {
	info, err := os.Lstat(fpath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s: is a directory", fpath)
	}
	return os.Remove(fpath)
}

// Within returns true if sub is within or equal to parent.
func Within(parent, sub string) bool {
	rel, err := filepath.Rel(parent, sub)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// SafeJoin joins the archive-relative name onto destination and fails
// with an IllegalPathError if the result escapes destination.
func SafeJoin(destination, name string) (string, error) {
	joined := filepath.Join(destination, filepath.FromSlash(name))
	if !Within(destination, joined) {
		return "", &IllegalPathError{AbsolutePath: joined, Filename: name}
	}
	return joined, nil
}

// NormalizeName converts an in-archive name to the canonical form used by
// entries: forward slashes, no leading "./" or "/", no trailing "/".
func NormalizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.TrimLeft(name, "/")
	for strings.HasPrefix(name, "./") {
		name = name[2:]
	}
	return strings.TrimRight(name, "/")
}

// TopDir returns the first path component of name.
func TopDir(name string) string {
	name = strings.TrimPrefix(name, "/")
	if i := strings.Index(name, "/"); i >= 0 {
		return name[:i]
	}
	return name
}

// TrimTopDir strips the first path component of name, if there is more
// than one.
func TrimTopDir(name string) string {
	name = strings.TrimPrefix(name, "/")
	if i := strings.Index(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// MultipleTopLevels returns true if the paths do not
// share a common top-level folder.
func MultipleTopLevels(paths []string) bool {
	if len(paths) < 2 {
		return false
	}
	var lastTop string
	for _, p := range paths {
		p = strings.TrimPrefix(strings.Replace(p, `\`, "/", -1), "/")
		for {
			next := path.Dir(p)
			if next == "." {
				break
			}
			p = next
		}
		if lastTop == "" {
			lastTop = p
		}
		if p != lastTop {
			return true
		}
	}
	return false
}

// FolderNameFromFileName returns a name for a folder
// that is suitable based on the filename, which will
// be stripped of its extensions.
func FolderNameFromFileName(filename string) string {
	base := filepath.Base(filename)
	firstDot := strings.Index(base, ".")
	if firstDot > -1 {
		return base[:firstDot]
	}
	return base
}
