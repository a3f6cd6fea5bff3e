package archiver

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/RetroBat-Official/emulatorlauncher-sub011/common"
)

// archive is the Archive shared by every backend: it holds the listing
// and drives the backend's decoder through an ExtractCallback.
type archive struct {
	backend  string
	entries  []Entry
	dec      callbackDecoder
	password string
	log      logrus.FieldLogger
	release  func() error
	closed   bool
}

func newArchive(backend, filename string, entries []Entry, dec callbackDecoder, cfg *Config, release func() error) *archive {
	return &archive{
		backend:  backend,
		entries:  entries,
		dec:      dec,
		password: cfg.Password,
		log:      cfg.logger().WithFields(logrus.Fields{"backend": backend, "path": filename}),
		release:  release,
	}
}

func (a *archive) Entries() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *archive) Extract(ctx context.Context, destination string, opts ExtractOptions) error {
	if a.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	plan, err := planExtraction(a.entries, destination, opts)
	if err != nil {
		return err
	}
	if err := common.Mkdir(destination, 0o755); err != nil {
		return err
	}

	cb := NewPathCallback(plan.target, CallbackOptions{
		Password:   a.passwordFor(opts),
		OnProgress: opts.OnProgress,
		Logger:     a.log,
	})
	a.log.WithFields(logrus.Fields{
		"destination": destination,
		"mode":        opts.Mode,
		"entries":     len(plan.indices),
	}).Debug("extracting")

	var result *multierror.Error
	if err := a.dec.Extract(ctx, plan.indices, cb); err != nil {
		result = multierror.Append(result, err)
	}
	if err := cb.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (a *archive) passwordFor(opts ExtractOptions) string {
	if opts.Password != "" {
		return opts.Password
	}
	return a.password
}

// extractTo runs the decoder for the given entries with a caller
// supplied callback.
func (a *archive) extractTo(ctx context.Context, indices []int, cb ExtractCallback) error {
	if a.closed {
		return ErrClosed
	}
	return a.dec.Extract(ctx, indices, cb)
}

func (a *archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if a.release == nil {
		return nil
	}
	return a.release()
}

// extractPlan maps the selected entries to their destination.
type extractPlan struct {
	indices []int
	targets map[int]Target
}

func (p *extractPlan) target(index int) (Target, bool) {
	t, ok := p.targets[index]
	return t, ok
}

func planExtraction(entries []Entry, destination string, opts ExtractOptions) (*extractPlan, error) {
	var only []string
	if opts.FileName != "" {
		only = []string{common.NormalizeName(opts.FileName)}
	}

	var root string
	if opts.Mode == SkipRootFolder {
		root = wrappingRoot(entries)
	}

	plan := &extractPlan{targets: make(map[int]Target)}
	matched := false
	for i, e := range entries {
		if !fileIsIncluded(only, e.Filename) {
			continue
		}
		matched = true

		rel := e.Filename
		switch opts.Mode {
		case SkipRootFolder:
			if root != "" {
				if rel == root {
					continue
				}
				rel = common.TrimTopDir(rel)
			}
		case Flat:
			if e.IsDirectory {
				continue
			}
			rel = path.Base(rel)
		}

		target, err := common.SafeJoin(destination, rel)
		if err != nil {
			return nil, err
		}
		plan.indices = append(plan.indices, i)
		plan.targets[i] = Target{Path: target, IsDir: e.IsDirectory, ModTime: e.LastModified}
	}
	if !matched && only != nil {
		return nil, fmt.Errorf("%s: %w", opts.FileName, ErrEntryNotFound)
	}
	return plan, nil
}

// wrappingRoot returns the top-level directory enclosing every entry, or
// "" if there is none.
func wrappingRoot(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Filename
	}
	if common.MultipleTopLevels(names) {
		return ""
	}

	top := common.TopDir(names[0])
	if top == ".." || top == "." {
		return ""
	}
	nested := false
	for _, e := range entries {
		if e.Filename == top {
			if !e.IsDirectory {
				return ""
			}
			continue
		}
		nested = true
	}
	if !nested {
		return ""
	}
	return top
}

// fileIsIncluded returns true if filename is included according to
// filenameList; meaning it is in the list, its parent folder/path
// is in the list, or the list is nil.
func fileIsIncluded(filenameList []string, filename string) bool {
	// include all files if there is no specific list
	if filenameList == nil {
		return true
	}
	for _, fn := range filenameList {
		// exact matches are of course included
		if filename == fn {
			return true
		}
		// also consider the file included if its parent folder/path is in the list
		if strings.HasPrefix(filename, strings.TrimSuffix(fn, "/")+"/") {
			return true
		}
	}
	return false
}

// dedupe drops entries without a name or whose name was already seen.
func dedupe(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if e.Filename == "" || seen[e.Filename] {
			continue
		}
		seen[e.Filename] = true
		out = append(out, e)
	}
	return out
}

// WriteEntry streams the content of the file entry called name to w.
func WriteEntry(ctx context.Context, a Archive, name string, w io.Writer, password string) error {
	ar, ok := a.(*archive)
	if !ok {
		return fmt.Errorf("archive type %T does not support streaming", a)
	}
	name = common.NormalizeName(name)
	for i, e := range ar.entries {
		if e.Filename != name {
			continue
		}
		if e.IsDirectory {
			return fmt.Errorf("%s: is a directory", name)
		}
		if password == "" {
			password = ar.password
		}
		return ar.extractTo(ctx, []int{i}, NewSingleTargetCallback(i, w, CallbackOptions{Password: password}))
	}
	return fmt.Errorf("%s: %w", name, ErrEntryNotFound)
}

// WriteEntries streams several file entries in one pass over the
// archive, each to its own writer. Names missing from the archive fail
// with ErrEntryNotFound before anything is written.
func WriteEntries(ctx context.Context, a Archive, writers map[string]io.Writer, password string) error {
	ar, ok := a.(*archive)
	if !ok {
		return fmt.Errorf("archive type %T does not support streaming", a)
	}

	streams := make([]io.Writer, len(ar.entries))
	var indices []int
	found := 0
	for i, e := range ar.entries {
		w, ok := writers[e.Filename]
		if !ok || e.IsDirectory {
			continue
		}
		streams[i] = w
		indices = append(indices, i)
		found++
	}
	if found != len(writers) {
		var missing []string
		for name := range writers {
			if !hasFile(ar.entries, name) {
				missing = append(missing, name)
			}
		}
		return fmt.Errorf("%s: %w", strings.Join(missing, ", "), ErrEntryNotFound)
	}

	if password == "" {
		password = ar.password
	}
	return ar.extractTo(ctx, indices, NewIndexedCallback(streams, CallbackOptions{Password: password}))
}

func hasFile(entries []Entry, name string) bool {
	for _, e := range entries {
		if e.Filename == name && !e.IsDirectory {
			return true
		}
	}
	return false
}

// extractRandomAccess is the decoder loop of backends that can reach any
// entry directly. write copies the content of e to w. Failing entries are
// reported once every requested entry has been attempted.
func extractRandomAccess(ctx context.Context, entries []Entry, indices []int, cb ExtractCallback, log logrus.FieldLogger, write func(e Entry, w io.Writer) error) error {
	var total int64
	for _, i := range indices {
		if i >= 0 && i < len(entries) {
			total += entries[i].Length
		}
	}
	cb.SetTotal(total)

	var done int64
	var result *multierror.Error
	for _, i := range indices {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i < 0 || i >= len(entries) {
			continue
		}
		e := entries[i]
		w, err := cb.GetStream(i)
		if err != nil {
			log.WithError(err).WithField("entry", e.Filename).Debug("no output stream")
			continue
		}
		if w == nil || e.IsDirectory {
			continue
		}
		if err := write(e, countingWriter{w: w, done: &done, cb: cb}); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", e.Filename, err))
		}
	}
	return result.ErrorOrNil()
}

// extractSequential is the decoder loop of backends that can only read
// entries in archive order. next returns the name and content of the
// following member, or io.EOF.
func extractSequential(ctx context.Context, entries []Entry, indices []int, cb ExtractCallback, log logrus.FieldLogger, next func() (string, io.Reader, error)) error {
	byName := make(map[string]int, len(entries))
	for i, e := range entries {
		byName[e.Filename] = i
	}
	want := make(map[int]bool, len(indices))
	var total int64
	for _, i := range indices {
		if i >= 0 && i < len(entries) && !want[i] {
			want[i] = true
			total += entries[i].Length
		}
	}
	cb.SetTotal(total)

	seen := make(map[string]bool)
	var done int64
	var result *multierror.Error
	for remaining := len(want); remaining > 0; {
		if err := ctx.Err(); err != nil {
			return err
		}
		name, r, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			result = multierror.Append(result, err)
			break
		}

		name = common.NormalizeName(name)
		i, ok := byName[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		if !want[i] {
			continue
		}
		remaining--

		w, err := cb.GetStream(i)
		if err != nil {
			log.WithError(err).WithField("entry", name).Debug("no output stream")
			continue
		}
		if w == nil || entries[i].IsDirectory {
			continue
		}
		if _, err := io.Copy(countingWriter{w: w, done: &done, cb: cb}, r); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

// copyFrom copies the stream returned by open to w and closes it.
func copyFrom(w io.Writer, open func() (io.ReadCloser, error)) error {
	rc, err := open()
	if err != nil {
		return fmt.Errorf("opening: %w", err)
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}
