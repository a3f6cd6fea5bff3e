package archiver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/RetroBat-Official/emulatorlauncher-sub011/common"
)

// ExtractCallback is consulted by a decoder while it extracts: once per
// entry for a destination stream, for progress, and for a password when
// the archive is encrypted. Decoders never close the streams they are
// given.
type ExtractCallback interface {
	// GetStream returns where the bytes of entry index go. A nil writer
	// means the entry is skipped.
	GetStream(index int) (io.Writer, error)
	// SetTotal announces the number of bytes the decoder will write.
	SetTotal(total int64)
	// SetCompleted reports the number of bytes written so far.
	SetCompleted(completed int64)
	// CryptoGetTextPassword returns the password to decrypt with, and
	// false if none was supplied.
	CryptoGetTextPassword() (string, bool)
}

// CallbackOptions are shared by every ExtractCallback variant.
type CallbackOptions struct {
	Password   string
	OnProgress ProgressFunc
	Logger     logrus.FieldLogger
}

// progressReporter turns byte counts into percentages. Identical
// consecutive percentages are reported once.
type progressReporter struct {
	fn    ProgressFunc
	total int64
	last  int
}

func newProgressReporter(fn ProgressFunc) progressReporter {
	return progressReporter{fn: fn, last: -1}
}

func (p *progressReporter) SetTotal(total int64) { p.total = total }

func (p *progressReporter) SetCompleted(completed int64) {
	if p.fn == nil || p.total <= 0 {
		return
	}
	pct := int(completed * 100 / p.total)
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	if pct == p.last {
		return
	}
	p.last = pct
	p.fn(pct)
}

type credentials string

func (c credentials) CryptoGetTextPassword() (string, bool) {
	return string(c), c != ""
}

func loggerOrDefault(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}

// SingleTargetCallback routes the bytes of one entry to a writer and
// skips every other entry.
type SingleTargetCallback struct {
	progressReporter
	credentials

	index int
	w     io.Writer
}

// NewSingleTargetCallback returns a callback writing entry index to w.
func NewSingleTargetCallback(index int, w io.Writer, opts CallbackOptions) *SingleTargetCallback {
	return &SingleTargetCallback{
		progressReporter: newProgressReporter(opts.OnProgress),
		credentials:      credentials(opts.Password),
		index:            index,
		w:                w,
	}
}

func (c *SingleTargetCallback) GetStream(index int) (io.Writer, error) {
	if index != c.index {
		return nil, nil
	}
	return c.w, nil
}

// IndexedCallback routes each entry to the writer at the same position
// of a list. Entries without a writer are skipped.
type IndexedCallback struct {
	progressReporter
	credentials

	streams []io.Writer
}

// NewIndexedCallback returns a callback writing entry i to streams[i].
func NewIndexedCallback(streams []io.Writer, opts CallbackOptions) *IndexedCallback {
	return &IndexedCallback{
		progressReporter: newProgressReporter(opts.OnProgress),
		credentials:      credentials(opts.Password),
		streams:          streams,
	}
}

func (c *IndexedCallback) GetStream(index int) (io.Writer, error) {
	if index < 0 || index >= len(c.streams) {
		return nil, nil
	}
	return c.streams[index], nil
}

// Target is where one entry is extracted on disk.
type Target struct {
	Path    string
	IsDir   bool
	ModTime time.Time
}

// TargetFunc computes the destination of an entry. Returning false skips
// the entry.
type TargetFunc func(index int) (Target, bool)

// PathCallback extracts entries to paths computed per entry. Directories
// are created on demand, files already present at a target path are
// removed before the new one is created, and only one output file is open
// at a time. Failing to create an entry's output skips that entry.
type PathCallback struct {
	progressReporter
	credentials

	resolve TargetFunc
	log     logrus.FieldLogger

	current *os.File
	target  Target
	skipped []int
}

// NewPathCallback returns a callback writing each entry where resolve
// says. Close must be called when the decoder is done.
func NewPathCallback(resolve TargetFunc, opts CallbackOptions) *PathCallback {
	return &PathCallback{
		progressReporter: newProgressReporter(opts.OnProgress),
		credentials:      credentials(opts.Password),
		resolve:          resolve,
		log:              loggerOrDefault(opts.Logger),
	}
}

func (c *PathCallback) GetStream(index int) (io.Writer, error) {
	if err := c.closeCurrent(); err != nil {
		c.log.WithError(err).Warn("closing extracted file")
	}

	t, ok := c.resolve(index)
	if !ok || t.Path == "" {
		c.skip(index, "no target path", nil)
		return nil, nil
	}

	if t.IsDir {
		if err := common.Mkdir(t.Path, 0o755); err != nil {
			c.skip(index, "creating directory", err)
		}
		return nil, nil
	}

	if err := common.Mkdir(filepath.Dir(t.Path), 0o755); err != nil {
		c.skip(index, "creating parent directory", err)
		return nil, nil
	}
	if err := common.RemoveIfExists(t.Path); err != nil {
		c.skip(index, "removing existing file", err)
		return nil, nil
	}
	f, err := common.CreateFile(t.Path)
	if err != nil {
		c.skip(index, "creating file", err)
		return nil, nil
	}

	c.current, c.target = f, t
	return f, nil
}

func (c *PathCallback) skip(index int, reason string, err error) {
	c.skipped = append(c.skipped, index)
	entry := c.log.WithField("index", index)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Debugf("skipping entry: %s", reason)
}

// Skipped lists the entries whose output could not be created.
func (c *PathCallback) Skipped() []int {
	return c.skipped
}

func (c *PathCallback) closeCurrent() error {
	if c.current == nil {
		return nil
	}
	f, t := c.current, c.target
	c.current = nil

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", t.Path, err)
	}
	if !t.ModTime.IsZero() {
		if err := os.Chtimes(t.Path, t.ModTime, t.ModTime); err != nil {
			c.log.WithError(err).WithField("path", t.Path).Debug("setting modification time")
		}
	}
	return nil
}

// Close closes the output file still open, if any. It is safe to call
// more than once.
func (c *PathCallback) Close() error {
	var result *multierror.Error
	if err := c.closeCurrent(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// countingWriter reports cumulative bytes to a callback as they are
// written.
type countingWriter struct {
	w    io.Writer
	done *int64
	cb   ExtractCallback
}

func (cw countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	*cw.done += int64(n)
	cw.cb.SetCompleted(*cw.done)
	return n, err
}

// Interface guards
var (
	_ ExtractCallback = (*SingleTargetCallback)(nil)
	_ ExtractCallback = (*IndexedCallback)(nil)
	_ ExtractCallback = (*PathCallback)(nil)
)
