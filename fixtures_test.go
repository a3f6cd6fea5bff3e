package archiver

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/STARRY-S/zip"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var fixtureTime = time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

// fixture is one member of a generated archive. Names ending in "/" are
// directories.
type fixture struct {
	name string
	body string
}

func (f fixture) isDir() bool { return strings.HasSuffix(f.name, "/") }

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// testUnarchiver returns an Unarchiver with a private cache and a silent
// logger.
func testUnarchiver(t *testing.T, opts ...Option) *Unarchiver {
	t.Helper()
	return New(append([]Option{WithLogger(testLogger())}, opts...)...)
}

func writeZip(t *testing.T, path string, files []fixture) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		hdr := &zip.FileHeader{Name: f.name, Method: zip.Deflate, Modified: fixtureTime}
		if f.isDir() {
			hdr.Method = zip.Store
		}
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		if !f.isDir() {
			_, err = io.WriteString(w, f.body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// writeTar writes a tarball, wrapped by wrap if it is not nil.
func writeTar(t *testing.T, path string, files []fixture, wrap func(io.Writer) io.WriteCloser) string {
	t.Helper()
	var buf bytes.Buffer
	var out io.Writer = &buf
	var wc io.WriteCloser
	if wrap != nil {
		wc = wrap(&buf)
		out = wc
	}

	tw := tar.NewWriter(out)
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, ModTime: fixtureTime, Mode: 0o644}
		switch {
		case f.isDir():
			hdr.Typeflag, hdr.Mode = tar.TypeDir, 0o755
		case strings.HasPrefix(f.body, "->"):
			hdr.Typeflag, hdr.Linkname = tar.TypeSymlink, strings.TrimPrefix(f.body, "->")
		default:
			hdr.Typeflag, hdr.Size = tar.TypeReg, int64(len(f.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := io.WriteString(tw, f.body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	if wc != nil {
		require.NoError(t, wc.Close())
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func gzipWriter(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) }

// readTree returns the regular files under root keyed by slash separated
// relative path, and the directories with a trailing slash.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	tree := make(map[string]string)
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			tree[rel+"/"] = ""
			return nil
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		tree[rel] = string(b)
		return nil
	})
	require.NoError(t, err)
	return tree
}

// readmeZip is an archive whose only top-level entry is the data folder.
func readmeZip(t *testing.T, dir string) string {
	return writeZip(t, filepath.Join(dir, "a.zip"), []fixture{
		{name: "data/readme.txt", body: "hello world\n"},
		{name: "data/sub/"},
	})
}
