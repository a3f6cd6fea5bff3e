package archiver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RetroBat-Official/emulatorlauncher-sub011/common"
	"github.com/RetroBat-Official/emulatorlauncher-sub011/squashfs/squashfstest"
)

func TestListAndExtractWrappedFolder(t *testing.T) {
	tmp := t.TempDir()
	path := readmeZip(t, tmp)
	u := testUnarchiver(t)

	entries := u.ListEntries(path)
	require.Len(t, entries, 2)
	assert.Equal(t, "data/readme.txt", entries[0].Filename)
	assert.False(t, entries[0].IsDirectory)
	assert.EqualValues(t, 12, entries[0].Length)
	assert.Equal(t, "data/sub", entries[1].Filename)
	assert.True(t, entries[1].IsDirectory)

	out := filepath.Join(tmp, "out")
	require.NoError(t, u.Extract(context.Background(), path, out, "", nil, false))
	assert.Equal(t, map[string]string{
		"readme.txt": "hello world\n",
		"sub/":       "",
	}, readTree(t, out))
}

func TestExtractKeepFolder(t *testing.T) {
	tmp := t.TempDir()
	path := readmeZip(t, tmp)
	out := filepath.Join(tmp, "out")

	require.NoError(t, testUnarchiver(t).Extract(context.Background(), path, out, "", nil, true))
	assert.Equal(t, map[string]string{
		"data/":           "",
		"data/readme.txt": "hello world\n",
		"data/sub/":       "",
	}, readTree(t, out))

	info, err := os.Stat(filepath.Join(out, "data", "readme.txt"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(fixtureTime), "mtime %s", info.ModTime())
}

func TestExtractIsIdempotent(t *testing.T) {
	tmp := t.TempDir()
	path := readmeZip(t, tmp)
	out := filepath.Join(tmp, "out")
	u := testUnarchiver(t)

	require.NoError(t, u.Extract(context.Background(), path, out, "", nil, false))
	require.NoError(t, os.WriteFile(filepath.Join(out, "readme.txt"), []byte("modified by the user, and longer"), 0o644))
	require.NoError(t, u.Extract(context.Background(), path, out, "", nil, false))

	b, err := os.ReadFile(filepath.Join(out, "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(b))
}

func TestExtractSingleFile(t *testing.T) {
	tmp := t.TempDir()
	path := writeZip(t, filepath.Join(tmp, "game.zip"), []fixture{
		{name: "game/rom.bin", body: "rom"},
		{name: "game/manual/page1.txt", body: "page one"},
		{name: "game/manual/page2.txt", body: "page two"},
	})
	u := testUnarchiver(t)

	out := filepath.Join(tmp, "one")
	require.NoError(t, u.Extract(context.Background(), path, out, "game/rom.bin", nil, true))
	assert.Equal(t, map[string]string{"game/": "", "game/rom.bin": "rom"}, readTree(t, out))

	out = filepath.Join(tmp, "subtree")
	require.NoError(t, u.Extract(context.Background(), path, out, "game/manual", nil, true))
	assert.Equal(t, map[string]string{
		"game/":                 "",
		"game/manual/":          "",
		"game/manual/page1.txt": "page one",
		"game/manual/page2.txt": "page two",
	}, readTree(t, out))

	err := u.Extract(context.Background(), path, filepath.Join(tmp, "none"), "game/missing.bin", nil, true)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestExtractReportsProgress(t *testing.T) {
	tmp := t.TempDir()
	path := writeZip(t, filepath.Join(tmp, "p.zip"), []fixture{
		{name: "a.bin", body: strings.Repeat("a", 300)},
		{name: "b.bin", body: strings.Repeat("b", 100)},
	})

	var reported []int
	err := testUnarchiver(t).Extract(context.Background(), path, filepath.Join(tmp, "out"), "", func(p int) {
		reported = append(reported, p)
	}, true)
	require.NoError(t, err)

	require.NotEmpty(t, reported)
	assert.Equal(t, 100, reported[len(reported)-1])
	for i := 1; i < len(reported); i++ {
		assert.Greater(t, reported[i], reported[i-1])
	}
}

func TestExtractIgnoresOtherFiles(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "readme.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain"), 0o644))
	out := filepath.Join(tmp, "out")

	require.NoError(t, testUnarchiver(t).Extract(context.Background(), path, out, "", nil, false))
	assert.NoDirExists(t, out)
}

func TestIsCompressedFile(t *testing.T) {
	tmp := t.TempDir()
	touch := func(name string) string {
		p := filepath.Join(tmp, name)
		require.NoError(t, os.WriteFile(p, nil, 0o644))
		return p
	}
	require.NoError(t, os.Mkdir(filepath.Join(tmp, "folder.zip"), 0o755))

	for i, test := range []struct {
		path   string
		expect bool
	}{
		{path: touch("a.zip"), expect: true},
		{path: touch("b.ZIP"), expect: true},
		{path: touch("c.7z"), expect: true},
		{path: touch("d.rar"), expect: true},
		{path: touch("e.squashfs"), expect: true},
		{path: touch("f.SquashFS"), expect: true},
		{path: touch("g.tar.gz"), expect: false},
		{path: touch("h.txt"), expect: false},
		{path: filepath.Join(tmp, "folder.zip"), expect: false},
		{path: filepath.Join(tmp, "missing.zip"), expect: false},
		{path: "", expect: false},
	} {
		assert.Equal(t, test.expect, IsCompressedFile(test.path), "test %d: %s", i, test.path)
	}
}

func TestOpenNoMatch(t *testing.T) {
	tmp := t.TempDir()
	u := testUnarchiver(t)

	a, err := u.Open("")
	assert.Nil(t, a)
	assert.ErrorIs(t, err, ErrNoMatch)

	junk := filepath.Join(tmp, "junk.zip")
	require.NoError(t, os.WriteFile(junk, []byte("this is not an archive at all"), 0o644))
	a, err = u.Open(junk)
	assert.Nil(t, a)
	assert.ErrorIs(t, err, ErrNoMatch)

	a, err = u.Open(filepath.Join(tmp, "missing.7z"))
	assert.Nil(t, a)
	assert.ErrorIs(t, err, ErrNoMatch)

	assert.Equal(t, []Entry{}, u.ListEntries(junk))
}

func TestOpenTwiceListsSameEntries(t *testing.T) {
	path := readmeZip(t, t.TempDir())
	u := testUnarchiver(t)

	first, err := u.Open(path)
	require.NoError(t, err)
	defer first.Close()
	second, err := u.Open(path)
	require.NoError(t, err)
	defer second.Close()

	strip := func(entries []Entry) []Entry {
		for i := range entries {
			entries[i].ref = nil
		}
		return entries
	}
	assert.Equal(t, strip(first.Entries()), strip(second.Entries()))
}

func TestListEntriesIsCached(t *testing.T) {
	tmp := t.TempDir()
	path := readmeZip(t, tmp)
	u := testUnarchiver(t)

	before := u.ListEntries(path)
	require.Len(t, before, 2)
	require.NoError(t, os.Remove(path))

	after := u.ListEntries(path)
	assert.Equal(t, before, after)

	// a relative spelling of the same path hits the same entry
	wd, err := os.Getwd()
	require.NoError(t, err)
	rel, err := filepath.Rel(wd, path)
	if err == nil {
		assert.Equal(t, before, u.ListEntries(rel))
	}
}

func TestSquashFSThroughUnarchiver(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "game.squashfs")
	require.NoError(t, squashfstest.New().
		File("game/rom.bin", []byte(strings.Repeat("rom!", 3000))).
		File("game/save/slot1.sav", []byte("slot")).
		Dir("game/empty").
		Symlink("game/link", "rom.bin").
		WriteFile(path))
	u := testUnarchiver(t)

	names := func() []string {
		var out []string
		for _, e := range u.ListEntries(path) {
			out = append(out, e.String())
		}
		return out
	}()
	assert.Equal(t, []string{"game/", "game/empty/", "game/rom.bin", "game/save/", "game/save/slot1.sav"}, names)

	out := filepath.Join(tmp, "out")
	require.NoError(t, u.Extract(context.Background(), path, out, "", nil, false))
	assert.Equal(t, map[string]string{
		"empty/":         "",
		"rom.bin":        strings.Repeat("rom!", 3000),
		"save/":          "",
		"save/slot1.sav": "slot",
	}, readTree(t, out))
}

func TestCorruptedSquashFSIsRejected(t *testing.T) {
	tmp := t.TempDir()
	raw, err := squashfstest.New().File("a.txt", []byte("a")).Bytes()
	require.NoError(t, err)
	raw[0] ^= 0xff
	path := filepath.Join(tmp, "broken.squashfs")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	a, err := testUnarchiver(t).Open(path)
	assert.Nil(t, a)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestZipSlipIsRejected(t *testing.T) {
	tmp := t.TempDir()
	path := writeZip(t, filepath.Join(tmp, "evil.zip"), []fixture{
		{name: "good.txt", body: "good"},
		{name: "../evil.txt", body: "evil"},
	})
	out := filepath.Join(tmp, "out")

	for _, keepFolder := range []bool{true, false} {
		err := testUnarchiver(t).Extract(context.Background(), path, out, "", nil, keepFolder)
		require.Error(t, err)
		assert.True(t, common.IsIllegalPathError(err), "keepFolder=%t: %v", keepFolder, err)
		assert.NoFileExists(t, filepath.Join(tmp, "evil.txt"))
		assert.NoFileExists(t, filepath.Join(out, "good.txt"))
	}
}

func TestFreeDiskSpace(t *testing.T) {
	tmp := t.TempDir()
	path := writeZip(t, filepath.Join(tmp, "big.zip"), []fixture{
		{name: "big.bin", body: strings.Repeat("\x00", 1<<20)},
	})
	fixed := func(free uint64, err error) FreeSpaceFunc {
		return func(string) (uint64, error) { return free, err }
	}
	dest := filepath.Join(tmp, "not", "created", "yet")

	for i, test := range []struct {
		opts   []Option
		expect bool
	}{
		{opts: []Option{WithFreeSpaceFunc(fixed(1<<10, nil))}, expect: false},
		{opts: []Option{WithFreeSpaceFunc(fixed(10<<30, nil))}, expect: true},
		{opts: []Option{WithFreeSpaceFunc(fixed(1<<20, nil))}, expect: true},
		{opts: []Option{WithFreeSpaceFunc(fixed(0, errors.New("no statfs")))}, expect: true},
		{opts: []Option{WithFreeSpaceFunc(fixed(0, errors.New("no statfs"))), WithDiskCheckPolicy(DiskCheckFailClosed)}, expect: false},
	} {
		u := testUnarchiver(t, test.opts...)
		assert.Equal(t, test.expect, u.IsFreeDiskSpaceAvailableForExtraction(path, dest), "test %d", i)
	}
}

func TestFreeDiskSpaceFallsBackToArchiveSize(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "notes.txt.gz")
	var buf strings.Builder
	gw := gzipWriter(&buf)
	_, err := gw.Write([]byte(strings.Repeat("notes ", 100)))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	require.NoError(t, os.WriteFile(path, []byte(buf.String()), 0o644))

	var asked string
	u := testUnarchiver(t, WithFreeSpaceFunc(func(p string) (uint64, error) {
		asked = p
		return uint64(len(buf.String())), nil
	}))
	assert.True(t, u.IsFreeDiskSpaceAvailableForExtraction(path, filepath.Join(tmp, "x", "y")))
	assert.Equal(t, tmp, asked)
}

func TestFreeDiskSpaceOfRealVolume(t *testing.T) {
	tmp := t.TempDir()
	path := readmeZip(t, tmp)
	assert.True(t, testUnarchiver(t).IsFreeDiskSpaceAvailableForExtraction(path, tmp))
}

func TestWithoutSevenZip(t *testing.T) {
	path := readmeZip(t, t.TempDir())
	a, err := testUnarchiver(t, WithoutSevenZip()).Open(path)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "zip", a.(*archive).backend)
}

func TestStrategies(t *testing.T) {
	names := func(path string) []string {
		var out []string
		for _, o := range strategies(path) {
			out = append(out, o.Name())
		}
		return out
	}
	assert.Equal(t, []string{".7z", ".squashfs"}, names("/roms/game.squashfs"))
	assert.Equal(t, []string{".7z", ".squashfs"}, names("game.SQUASHFS"))
	assert.Equal(t, []string{".7z", ".rar"}, names("game.rar"))
	assert.Equal(t, []string{".tar"}, names("game.tar.xz"))
	assert.Equal(t, []string{".7z", ".zip", "compressed"}, names("game.zip"))
	assert.Equal(t, []string{".7z", ".zip", "compressed"}, names("game.iso.gz"))
}

func TestSevenZipDisabled(t *testing.T) {
	path := readmeZip(t, t.TempDir())
	_, err := SevenZip{}.OpenArchive(path, &Config{DisableSevenZip: true})
	assert.ErrorIs(t, err, errSevenZipDisabled)

	_, err = SevenZip{}.OpenArchive(path, &Config{Logger: testLogger()})
	assert.Error(t, err, "a zip file is not a 7z archive")
}
