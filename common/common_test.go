package common

import (
	"path/filepath"
	"runtime"
	"testing"
)

func TestWithin(t *testing.T) {
	for i, tc := range []struct {
		path1, path2 string
		expect       bool
	}{
		{
			path1:  "/foo",
			path2:  "/foo/bar",
			expect: true,
		},
		{
			path1:  "/foo",
			path2:  "/foobar/asdf",
			expect: false,
		},
		{
			path1:  "/foobar/",
			path2:  "/foobar/asdf",
			expect: true,
		},
		{
			path1:  "/foobar/asdf",
			path2:  "/foobar",
			expect: false,
		},
		{
			path1:  "/foobar/asdf",
			path2:  "/foobar/",
			expect: false,
		},
		{
			path1:  "/",
			path2:  "/asdf",
			expect: true,
		},
		{
			path1:  "/asdf",
			path2:  "/asdf",
			expect: true,
		},
		{
			path1:  "/",
			path2:  "/",
			expect: true,
		},
		{
			path1:  "/foo/bar/daa",
			path2:  "/foo",
			expect: false,
		},
		{
			path1:  "/foo/",
			path2:  "/foo/bar/daa",
			expect: true,
		},
	} {
		actual := Within(tc.path1, tc.path2)
		if actual != tc.expect {
			t.Errorf("Test %d: [%s %s] Expected %t but got %t", i, tc.path1, tc.path2, tc.expect, actual)
		}
	}
}

func TestMultipleTopLevels(t *testing.T) {
	for i, tc := range []struct {
		set    []string
		expect bool
	}{
		{
			set:    []string{},
			expect: false,
		},
		{
			set:    []string{"/foo"},
			expect: false,
		},
		{
			set:    []string{"/foo", "/foo/bar"},
			expect: false,
		},
		{
			set:    []string{"/foo", "/bar"},
			expect: true,
		},
		{
			set:    []string{"/foo", "/foobar"},
			expect: true,
		},
		{
			set:    []string{"foo", "foo/bar"},
			expect: false,
		},
		{
			set:    []string{"foo", "/foo/bar"},
			expect: false,
		},
		{
			set:    []string{"../foo", "foo/bar"},
			expect: true,
		},
		{
			set:    []string{`C:\foo\bar`, `C:\foo\bar\zee`},
			expect: false,
		},
		{
			set:    []string{`C:\`, `C:\foo\bar`},
			expect: false,
		},
		{
			set:    []string{`D:\foo`, `E:\foo`},
			expect: true,
		},
		{
			set:    []string{`D:\foo`, `D:\foo\bar`, `C:\foo`},
			expect: true,
		},
		{
			set:    []string{"/foo", "/", "/bar"},
			expect: true,
		},
	} {
		actual := MultipleTopLevels(tc.set)
		if actual != tc.expect {
			t.Errorf("Test %d: %v: Expected %t but got %t", i, tc.set, tc.expect, actual)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	for i, tc := range []struct {
		input, expect string
	}{
		{input: "a/b/c", expect: "a/b/c"},
		{input: "/a/b/", expect: "a/b"},
		{input: "./a/b", expect: "a/b"},
		{input: `a\b\c`, expect: "a/b/c"},
		{input: "dir/", expect: "dir"},
		{input: "", expect: ""},
	} {
		if actual := NormalizeName(tc.input); actual != tc.expect {
			t.Errorf("Test %d (input=%s): Expected '%s' but got '%s'", i, tc.input, tc.expect, actual)
		}
	}
}

func TestTopDir(t *testing.T) {
	for _, tc := range []struct {
		input string
		want  string
	}{
		{input: "a/b/c", want: "a"},
		{input: "a", want: "a"},
		{input: "abc/def", want: "abc"},
		{input: "/abc/def", want: "abc"},
	} {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			got := TopDir(tc.input)
			if got != tc.want {
				t.Errorf("want: '%s', got: '%s'", tc.want, got)
			}
		})
	}
}

func TestTrimTopDir(t *testing.T) {
	for _, tc := range []struct {
		input string
		want  string
	}{
		{input: "a/b/c", want: "b/c"},
		{input: "a", want: "a"},
		{input: "abc/def", want: "def"},
		{input: "/abc/def", want: "def"},
	} {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			got := TrimTopDir(tc.input)
			if got != tc.want {
				t.Errorf("want: '%s', got: '%s'", tc.want, got)
			}
		})
	}
}

func TestSafeJoin(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("paths below are unix style")
	}
	for i, tc := range []struct {
		name    string
		expect  string
		illegal bool
	}{
		{name: "a/b.txt", expect: "/dest/a/b.txt"},
		{name: "a/../b.txt", expect: "/dest/b.txt"},
		{name: "../b.txt", illegal: true},
		{name: "a/../../b.txt", illegal: true},
		{name: "..foo/b.txt", expect: "/dest/..foo/b.txt"},
	} {
		actual, err := SafeJoin("/dest", tc.name)
		if tc.illegal {
			if !IsIllegalPathError(err) {
				t.Errorf("Test %d (%s): expected illegal path error, got %v", i, tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Test %d (%s): unexpected error: %v", i, tc.name, err)
			continue
		}
		if actual != filepath.FromSlash(tc.expect) {
			t.Errorf("Test %d (%s): Expected '%s' but got '%s'", i, tc.name, tc.expect, actual)
		}
	}
}

func TestFolderNameFromFileName(t *testing.T) {
	for i, tc := range []struct {
		input, expect string
	}{
		{input: "/downloads/game.tar.gz", expect: "game"},
		{input: "bundle.zip", expect: "bundle"},
		{input: "noext", expect: "noext"},
	} {
		if actual := FolderNameFromFileName(tc.input); actual != tc.expect {
			t.Errorf("Test %d: Expected '%s' but got '%s'", i, tc.expect, actual)
		}
	}
}
