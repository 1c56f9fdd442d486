package jsonldb

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Staging streams rows to a temporary file that becomes the active generation
// on [Staging.Commit].
//
// Create via [Dataset.NewStaging]. If anything fails before Commit, call
// [Staging.Abort] to remove the temporary file. Staging is not safe for
// concurrent use.
type Staging struct {
	ds      *Dataset
	tmpPath string
	file    *os.File // nil after Commit or Abort
	w       *bufio.Writer
	header  []string
	n       int
}

// NewStaging creates a staging file in the dataset's tmp directory.
func (d *Dataset) NewStaging() (*Staging, error) {
	f, err := os.CreateTemp(filepath.Join(d.dir, tmpDirName), tmpPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create staging file: %w", ErrIO, err)
	}
	return &Staging{
		ds:      d,
		tmpPath: f.Name(),
		file:    f,
		w:       bufio.NewWriterSize(f, 64*1024),
	}, nil
}

// Len returns the number of rows appended so far.
func (s *Staging) Len() int {
	return s.n
}

// Append writes one row. The first row fixes the column order; later rows
// are conformed to it.
func (s *Staging) Append(rec Record) error {
	if s.file == nil {
		return fs.ErrClosed
	}
	if s.n == 0 {
		s.header = rec.Columns()
	} else {
		rec = rec.Conform(s.header)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal row %d: %w", s.n+1, err)
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("%w: failed to write row: %w", ErrIO, err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("%w: failed to write newline: %w", ErrIO, err)
	}
	s.n++
	return nil
}

// Commit flushes the staging file and renames it over the active dataset,
// then records the commit time. It returns the number of rows committed.
//
// On failure the staging file is removed and the active dataset is left as
// it was.
func (s *Staging) Commit() (int, error) {
	return s.commit(true)
}

func (s *Staging) commit(stamp bool) (int, error) {
	if s.file == nil {
		return 0, fs.ErrClosed
	}
	f := s.file
	s.file = nil
	if err := s.w.Flush(); err != nil {
		_ = f.Close()
		return 0, errors.Join(fmt.Errorf("%w: failed to flush staging file: %w", ErrIO, err), os.Remove(s.tmpPath))
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return 0, errors.Join(fmt.Errorf("%w: failed to sync staging file: %w", ErrIO, err), os.Remove(s.tmpPath))
	}
	if err := f.Close(); err != nil {
		return 0, errors.Join(fmt.Errorf("%w: failed to close staging file: %w", ErrIO, err), os.Remove(s.tmpPath))
	}

	s.ds.commitMu.Lock()
	defer s.ds.commitMu.Unlock()
	if err := os.Rename(s.tmpPath, s.ds.Path()); err != nil {
		return 0, errors.Join(fmt.Errorf("%w: failed to activate dataset: %w", ErrIO, err), os.Remove(s.tmpPath))
	}
	if stamp {
		if err := s.ds.setStamp(time.Now().UTC().Truncate(time.Millisecond)); err != nil {
			// The new generation is live; only the persisted timestamp is stale.
			return s.n, fmt.Errorf("%w: dataset replaced but timestamp not saved: %w", ErrIO, err)
		}
	}
	return s.n, nil
}

// Abort discards the staging file. It is a no-op after Commit or Abort.
func (s *Staging) Abort() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return errors.Join(err, os.Remove(s.tmpPath))
}
