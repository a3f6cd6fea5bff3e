package squashfs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RetroBat-Official/emulatorlauncher-sub011/squashfs/squashfstest"
)

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + i/251)
	}
	return p
}

func openBytes(t *testing.T, b *squashfstest.Builder) *Image {
	t.Helper()
	raw, err := b.Bytes()
	require.NoError(t, err)
	img, err := NewImage(bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })
	return img
}

func TestFilesPreOrder(t *testing.T) {
	b := squashfstest.New().
		File("data/readme.txt", []byte("hello world\n")).
		Dir("data/sub").
		File("bin/big.bin", pattern(10000)).
		Symlink("link", "data/readme.txt")
	img := openBytes(t, b)

	var paths []string
	for _, f := range img.Files() {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"bin", "bin/big.bin", "data", "data/readme.txt", "data/sub"}, paths)

	readme, ok := img.Lookup("/data/readme.txt")
	require.True(t, ok)
	assert.False(t, readme.IsDir)
	assert.EqualValues(t, 12, readme.Size)
	assert.Equal(t, os.FileMode(0o644), readme.Mode)

	sub, ok := img.Lookup("data/sub")
	require.True(t, ok)
	assert.True(t, sub.IsDir)
	assert.Zero(t, sub.Size)
	assert.True(t, sub.Mode.IsDir())

	_, ok = img.Lookup("link")
	assert.False(t, ok, "symlinks are not listed")
}

func TestCopyFileLayouts(t *testing.T) {
	big := pattern(3*4096 + 100)
	tests := []struct {
		name string
		conf func(b *squashfstest.Builder)
	}{
		{"basic", func(b *squashfstest.Builder) {}},
		{"extended inodes", func(b *squashfstest.Builder) { b.Extended = true }},
		{"compressed", func(b *squashfstest.Builder) { b.CompressData, b.CompressMetadata = true, true }},
		{"no fragments", func(b *squashfstest.Builder) { b.Fragments = false }},
		{"8k blocks", func(b *squashfstest.Builder) { b.BlockSize = 8192 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := squashfstest.New().
				File("a/big.bin", big).
				File("a/small.txt", []byte("tail packed")).
				File("b/empty", nil)
			tc.conf(b)
			img := openBytes(t, b)

			for name, want := range map[string][]byte{
				"a/big.bin":   big,
				"a/small.txt": []byte("tail packed"),
				"b/empty":     {},
			} {
				var buf bytes.Buffer
				n, err := img.CopyFile(name, &buf)
				require.NoError(t, err, name)
				assert.EqualValues(t, len(want), n, name)
				assert.True(t, bytes.Equal(want, buf.Bytes()), "content of %s", name)
			}
		})
	}
}

func TestManyFilesSpanMetadataBlocks(t *testing.T) {
	b := squashfstest.New()
	want := map[string][]byte{}
	for i := 0; i < 400; i++ {
		name := fmt.Sprintf("dir/file-with-a-fairly-long-name-%03d.txt", i)
		want[name] = pattern(i + 1)
		b.File(name, want[name])
	}
	img := openBytes(t, b)

	assert.Len(t, img.Files(), 401)
	for name, content := range want {
		var buf bytes.Buffer
		_, err := img.CopyFile(name, &buf)
		require.NoError(t, err, name)
		require.Equal(t, content, buf.Bytes(), name)
	}
}

func TestHardLinks(t *testing.T) {
	content := pattern(5000)
	for _, extended := range []bool{false, true} {
		b := squashfstest.New().
			File("linkAAAA1", content).
			Hardlink("linkBBBB2", "linkAAAA1").
			Hardlink("linkCCCC3", "linkAAAA1").
			Hardlink("other/linkDDDD4", "linkAAAA1")
		b.Extended = extended
		img := openBytes(t, b)

		// root, other and the shared file
		assert.EqualValues(t, 3, img.Superblock().InodeCount)

		first, ok := img.Lookup("linkAAAA1")
		require.True(t, ok)
		for _, name := range []string{"linkAAAA1", "linkBBBB2", "linkCCCC3", "other/linkDDDD4"} {
			f, ok := img.Lookup(name)
			require.True(t, ok, name)
			assert.Equal(t, first.InodeNumber, f.InodeNumber, name)

			var buf bytes.Buffer
			_, err := img.CopyFile(name, &buf)
			require.NoError(t, err, name)
			assert.Equal(t, content, buf.Bytes(), name)
		}
	}
}

func TestHardLinkTargetMustExist(t *testing.T) {
	_, err := squashfstest.New().Hardlink("a", "missing").Bytes()
	assert.Error(t, err)

	_, err = squashfstest.New().Dir("d").Hardlink("a", "d").Bytes()
	assert.Error(t, err)
}

func TestSparseBlocks(t *testing.T) {
	content := append(make([]byte, 2*4096), []byte("after the hole")...)
	for _, extended := range []bool{false, true} {
		b := squashfstest.New().File("sparse.img", content)
		b.Extended = extended
		img := openBytes(t, b)

		var buf bytes.Buffer
		_, err := img.CopyFile("sparse.img", &buf)
		require.NoError(t, err)
		assert.Equal(t, content, buf.Bytes())
	}
}

func TestReadAt(t *testing.T) {
	content := pattern(5000)
	img := openBytes(t, squashfstest.New().File("f", content))
	f, ok := img.Lookup("f")
	require.True(t, ok)

	p := make([]byte, 200)
	n, err := img.ReadAt(&f, p, 4000)
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	assert.Equal(t, content[4000:4200], p)

	n, err = img.ReadAt(&f, p, 4900)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 100, n)
	assert.Equal(t, content[4900:], p[:n])

	_, err = img.ReadAt(&f, p, 5000)
	assert.ErrorIs(t, err, io.EOF)
}

func TestOwnershipAndTimes(t *testing.T) {
	mtime := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	b := squashfstest.New().
		File("owned", []byte("x"), squashfstest.Owner(1000, 100), squashfstest.ModTime(mtime), squashfstest.Perm(0o600)).
		File("root", []byte("y"))
	img := openBytes(t, b)

	owned, _ := img.Lookup("owned")
	assert.EqualValues(t, 1000, owned.UID)
	assert.EqualValues(t, 100, owned.GID)
	assert.True(t, owned.ModTime.Equal(mtime))
	assert.Equal(t, time.Local, owned.ModTime.Location())
	assert.Equal(t, os.FileMode(0o600), owned.Mode)

	root, _ := img.Lookup("root")
	assert.Zero(t, root.UID)
	assert.Zero(t, root.GID)
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.squashfs")
	content := pattern(CopyChunkSize + 1234)
	require.NoError(t, squashfstest.New().
		File("roms/game.bin", content).
		Dir("roms/empty").
		WriteFile(path))

	img, err := Open(path)
	require.NoError(t, err)
	defer img.Close()

	dest := filepath.Join(dir, "out", "nested", "game.bin")
	require.NoError(t, img.ExtractFile("roms/game.bin", dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(time.Unix(1700000000, 0)), info.ModTime())

	// existing files are replaced
	require.NoError(t, os.WriteFile(dest, []byte("stale content that is longer"), 0o644))
	require.NoError(t, img.ExtractFile("roms/game.bin", dest))
	got, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	err = img.ExtractFile("roms/missing.bin", filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoFileExists(t, filepath.Join(dir, "missing"))

	err = img.ExtractFile("roms/empty", filepath.Join(dir, "empty"))
	assert.ErrorIs(t, err, ErrIsDir)
}

func TestCorruptedMagic(t *testing.T) {
	raw, err := squashfstest.New().File("a", []byte("a")).Bytes()
	require.NoError(t, err)
	raw[0] ^= 0xff

	img, err := NewImage(bytes.NewReader(raw))
	assert.Nil(t, img)
	assert.ErrorIs(t, err, ErrBadMagic)

	path := filepath.Join(t.TempDir(), "bad.squashfs")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	img, err = Open(path)
	assert.Nil(t, img)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestUnsupportedCompression(t *testing.T) {
	raw, err := squashfstest.New().File("a", []byte("a")).Bytes()
	require.NoError(t, err)
	binary.LittleEndian.PutUint16(raw[20:], uint16(LZO))

	img, err := NewImage(bytes.NewReader(raw))
	assert.Nil(t, img)
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
}

func TestTruncatedImage(t *testing.T) {
	raw, err := squashfstest.New().File("a", pattern(100)).Bytes()
	require.NoError(t, err)

	img, err := NewImage(bytes.NewReader(raw[:len(raw)-10]))
	assert.Nil(t, img)
	assert.Error(t, err)
}

func TestSuperblock(t *testing.T) {
	b := squashfstest.New().File("a", []byte("a")).File("b/c", []byte("c"))
	img := openBytes(t, b)
	sb := img.Superblock()
	assert.Equal(t, Magic, sb.Magic)
	assert.EqualValues(t, 4096, sb.BlockSize)
	assert.EqualValues(t, 12, sb.BlockLog)
	assert.Equal(t, GZIP, sb.Compression)
	assert.EqualValues(t, 4, sb.InodeCount)
	assert.True(t, sb.HasFragmentTable())
	assert.False(t, sb.HasExportTable())
	assert.True(t, sb.Flags.Has(FlagNoXattrs))
}

func TestCloseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.squashfs")
	require.NoError(t, squashfstest.New().File("a", []byte("a")).WriteFile(path))

	img, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, img.Close())
	require.NoError(t, img.Close())

	_, err = img.CopyFile("a", &bytes.Buffer{})
	assert.True(t, errors.Is(err, ErrClosed))
}
