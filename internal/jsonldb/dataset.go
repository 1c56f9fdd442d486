package jsonldb

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	dataFileName  = "data.ndjson"
	stampFileName = "last-upload.txt"
	tmpDirName    = "tmp"
	tmpPattern    = "upload-*.tmp"

	// TimestampLayout is the format of the last-upload timestamp, matching
	// JavaScript's Date.toISOString().
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// ErrIO is wrapped by errors returned when the store cannot read or write its
// files.
var ErrIO = errors.New("dataset i/o error")

// Dataset is the active dataset generation stored in dir/data.ndjson.
//
// Dataset is safe for concurrent use.
type Dataset struct {
	dir string

	// commitMu serializes the rename and timestamp update so the persisted
	// timestamp always belongs to the active generation.
	commitMu sync.Mutex

	mu          sync.RWMutex
	lastReplace time.Time
}

// Open opens the dataset stored in dir, creating the directory if needed.
//
// Leftover staging files from an interrupted upload are removed.
func Open(dir string) (*Dataset, error) {
	if err := os.MkdirAll(filepath.Join(dir, tmpDirName), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create dataset directory: %w", err)
	}
	d := &Dataset{dir: dir}
	if err := d.removeStaleStaging(); err != nil {
		return nil, err
	}
	if err := d.loadStamp(); err != nil {
		return nil, err
	}
	return d, nil
}

// Path returns the path of the active dataset file.
func (d *Dataset) Path() string {
	return filepath.Join(d.dir, dataFileName)
}

// LastReplace returns when the active generation was committed, or false if
// no upload ever completed.
func (d *Dataset) LastReplace() (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastReplace, !d.lastReplace.IsZero()
}

// Replace writes rows as the new generation and atomically activates it.
//
// It returns the number of rows written. On error the active dataset is left
// untouched.
func (d *Dataset) Replace(rows iter.Seq[Record]) (int, error) {
	s, err := d.NewStaging()
	if err != nil {
		return 0, err
	}
	for row := range rows {
		if err := s.Append(row); err != nil {
			return 0, errors.Join(err, s.Abort())
		}
	}
	return s.Commit()
}

// Clear activates an empty generation. The file stays present with zero rows.
//
// The last-upload timestamp is not modified.
func (d *Dataset) Clear() error {
	s, err := d.NewStaging()
	if err != nil {
		return err
	}
	_, err = s.commit(false)
	return err
}

// Scan returns an iterator over the rows of the active generation.
//
// Each call opens the file independently; the open handle pins the generation
// for the whole iteration even if a Replace commits meanwhile. Malformed lines
// are skipped. An I/O error or context cancellation is yielded once and ends
// the iteration. A dataset that was never written yields nothing.
func (d *Dataset) Scan(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		f, err := os.Open(d.Path())
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				yield(Record{}, fmt.Errorf("%w: failed to open dataset: %w", ErrIO, err))
			}
			return
		}
		defer func() {
			_ = f.Close()
		}()
		r := bufio.NewReaderSize(f, 64*1024)
		for lineno := 1; ; lineno++ {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}
			line, err := r.ReadBytes('\n')
			if len(line) > 0 {
				if rec, ok := decodeLine(line); ok {
					if !yield(rec, nil) {
						return
					}
				} else {
					slog.DebugContext(ctx, "Skipping malformed dataset line", "line", lineno)
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(Record{}, fmt.Errorf("%w: failed to read dataset: %w", ErrIO, err))
				}
				return
			}
		}
	}
}

// decodeLine decodes one NDJSON line. Blank lines are reported as not ok.
func decodeLine(line []byte) (Record, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Record{}, false
	}
	var rec Record
	if err := rec.UnmarshalJSON(line); err != nil {
		return Record{}, false
	}
	return rec, true
}

func (d *Dataset) stampPath() string {
	return filepath.Join(d.dir, stampFileName)
}

func (d *Dataset) loadStamp() error {
	data, err := os.ReadFile(d.stampPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", stampFileName, err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		slog.Warn("Ignoring unparsable last upload timestamp", "value", s, "err", err)
		return nil
	}
	d.mu.Lock()
	d.lastReplace = t
	d.mu.Unlock()
	return nil
}

// setStamp records t as the last replace time, in memory and on disk.
//
// Must be called with commitMu held.
func (d *Dataset) setStamp(t time.Time) error {
	d.mu.Lock()
	d.lastReplace = t
	d.mu.Unlock()
	return WriteFileAtomic(d.stampPath(), []byte(t.UTC().Format(TimestampLayout)), 0o644)
}

func (d *Dataset) removeStaleStaging() error {
	matches, err := filepath.Glob(filepath.Join(d.dir, tmpDirName, tmpPattern))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale staging file: %w", err)
		}
		slog.Info("Removed stale staging file", "path", m)
	}
	return nil
}

// WriteFileAtomic writes data to a temporary file next to path then renames
// it over path, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errors.Join(fmt.Errorf("failed to write %s: %w", path, err), os.Remove(tmp))
	}
	if err := f.Chmod(perm); err != nil {
		_ = f.Close()
		return errors.Join(fmt.Errorf("failed to chmod %s: %w", path, err), os.Remove(tmp))
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Join(fmt.Errorf("failed to sync %s: %w", path, err), os.Remove(tmp))
	}
	if err := f.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to close %s: %w", path, err), os.Remove(tmp))
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Join(fmt.Errorf("failed to rename %s: %w", path, err), os.Remove(tmp))
	}
	return nil
}
