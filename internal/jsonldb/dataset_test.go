package jsonldb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

// setupDataset opens a dataset in the test's temp directory.
func setupDataset(t *testing.T) (*Dataset, string) {
	dir := t.TempDir()
	d, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return d, dir
}

func people() []Record {
	cols := []string{"email", "firstName"}
	return []Record{
		NewRecord(cols, []string{"a@x.com", "John"}),
		NewRecord(cols, []string{"b@x.com", "Jane"}),
	}
}

// collect scans the whole dataset.
func collect(t *testing.T, d *Dataset) []Record {
	t.Helper()
	var out []Record
	for rec, err := range d.Scan(t.Context()) {
		if err != nil {
			t.Fatalf("Scan error: %v", err)
		}
		out = append(out, rec)
	}
	return out
}

func TestDataset(t *testing.T) {
	t.Run("empty before first upload", func(t *testing.T) {
		d, _ := setupDataset(t)
		if got := collect(t, d); len(got) != 0 {
			t.Errorf("Scan() yielded %d rows, want 0", len(got))
		}
		if _, ok := d.LastReplace(); ok {
			t.Error("LastReplace() reported an upload")
		}
	})

	t.Run("Replace then Scan", func(t *testing.T) {
		d, _ := setupDataset(t)
		n, err := d.Replace(slices.Values(people()))
		if err != nil {
			t.Fatalf("Replace() error: %v", err)
		}
		if n != 2 {
			t.Errorf("Replace() = %d, want 2", n)
		}
		got := collect(t, d)
		if len(got) != 2 {
			t.Fatalf("Scan() yielded %d rows, want 2", len(got))
		}
		if got[1].Field(0) != "b@x.com" || got[1].Field(1) != "Jane" {
			t.Errorf("row 1 = %q", got[1].Values())
		}
		ts, ok := d.LastReplace()
		if !ok || time.Since(ts) > time.Minute {
			t.Errorf("LastReplace() = %v, %v", ts, ok)
		}
	})

	t.Run("Replace wholly replaces", func(t *testing.T) {
		d, _ := setupDataset(t)
		if _, err := d.Replace(slices.Values(people())); err != nil {
			t.Fatal(err)
		}
		next := []Record{NewRecord([]string{"k", "v"}, []string{"1", "2"})}
		if _, err := d.Replace(slices.Values(next)); err != nil {
			t.Fatal(err)
		}
		got := collect(t, d)
		if len(got) != 1 || got[0].Field(0) != "1" {
			t.Errorf("Scan() = %v, want only the new generation", got)
		}
	})

	t.Run("rows conformed to first row", func(t *testing.T) {
		d, _ := setupDataset(t)
		rows := []Record{
			NewRecord([]string{"email", "firstName"}, []string{"a@x.com", "John"}),
			NewRecord([]string{"firstName", "email"}, []string{"Jane", "b@x.com"}),
		}
		if _, err := d.Replace(slices.Values(rows)); err != nil {
			t.Fatal(err)
		}
		got := collect(t, d)
		if got[1].Field(0) != "b@x.com" {
			t.Errorf("second row column 0 = %q, want b@x.com", got[1].Field(0))
		}
	})

	t.Run("Clear is idempotent", func(t *testing.T) {
		d, dir := setupDataset(t)
		if _, err := d.Replace(slices.Values(people())); err != nil {
			t.Fatal(err)
		}
		before, _ := d.LastReplace()
		for i := range 2 {
			if err := d.Clear(); err != nil {
				t.Fatalf("Clear() #%d error: %v", i+1, err)
			}
			if got := collect(t, d); len(got) != 0 {
				t.Errorf("Clear() #%d left %d rows", i+1, len(got))
			}
		}
		if _, err := os.Stat(filepath.Join(dir, dataFileName)); err != nil {
			t.Errorf("active file missing after Clear: %v", err)
		}
		if after, _ := d.LastReplace(); !after.Equal(before) {
			t.Errorf("Clear changed LastReplace from %v to %v", before, after)
		}
	})

	t.Run("aborted staging leaves dataset intact", func(t *testing.T) {
		d, dir := setupDataset(t)
		if _, err := d.Replace(slices.Values(people())); err != nil {
			t.Fatal(err)
		}
		s, err := d.NewStaging()
		if err != nil {
			t.Fatal(err)
		}
		for range 10 {
			if err := s.Append(NewRecord([]string{"x"}, []string{"new"})); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.Abort(); err != nil {
			t.Fatalf("Abort() error: %v", err)
		}
		if got := collect(t, d); len(got) != 2 || got[0].Field(0) != "a@x.com" {
			t.Errorf("Scan() after abort = %v", got)
		}
		if m, _ := filepath.Glob(filepath.Join(dir, tmpDirName, "*")); len(m) != 0 {
			t.Errorf("staging files left behind: %v", m)
		}
		if err := s.Abort(); err != nil {
			t.Errorf("second Abort() error: %v", err)
		}
		if _, err := s.Commit(); err == nil {
			t.Error("Commit() after Abort() succeeded")
		}
	})

	t.Run("uncommitted staging is invisible", func(t *testing.T) {
		d, _ := setupDataset(t)
		if _, err := d.Replace(slices.Values(people())); err != nil {
			t.Fatal(err)
		}
		s, err := d.NewStaging()
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Append(people()[0]); err != nil {
			t.Fatal(err)
		}
		// Simulates a crash before the swap: the staging file is never committed.
		if got := collect(t, d); len(got) != 2 {
			t.Errorf("uncommitted staging visible: %d rows", len(got))
		}
		_ = s.Abort()
	})

	t.Run("malformed lines skipped", func(t *testing.T) {
		d, dir := setupDataset(t)
		content := `{"a":"1","b":"2"}
not json
{"a":"3"
{"a":"x"} trailing

["array"]
{"a":"4","b":"5"}`
		if err := os.WriteFile(filepath.Join(dir, dataFileName), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		got := collect(t, d)
		if len(got) != 2 {
			t.Fatalf("Scan() yielded %d rows, want 2", len(got))
		}
		if got[1].Field(0) != "4" {
			t.Errorf("last row = %q, want unterminated final line decoded", got[1].Values())
		}
	})

	t.Run("Scan stops on cancellation", func(t *testing.T) {
		d, _ := setupDataset(t)
		if _, err := d.Replace(slices.Values(people())); err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		var gotErr error
		for _, err := range d.Scan(ctx) {
			gotErr = err
		}
		if !errors.Is(gotErr, context.Canceled) {
			t.Errorf("Scan() error = %v, want context.Canceled", gotErr)
		}
	})

	t.Run("Scan early break", func(t *testing.T) {
		d, _ := setupDataset(t)
		if _, err := d.Replace(slices.Values(people())); err != nil {
			t.Fatal(err)
		}
		n := 0
		for range d.Scan(t.Context()) {
			n++
			break
		}
		if n != 1 {
			t.Errorf("iterated %d times", n)
		}
	})

	t.Run("timestamp persists across Open", func(t *testing.T) {
		d, dir := setupDataset(t)
		if _, err := d.Replace(slices.Values(people())); err != nil {
			t.Fatal(err)
		}
		want, _ := d.LastReplace()
		d2, err := Open(dir)
		if err != nil {
			t.Fatal(err)
		}
		got, ok := d2.LastReplace()
		if !ok || !got.Equal(want) {
			t.Errorf("LastReplace() after reopen = %v, want %v", got, want)
		}
	})

	t.Run("Open removes stale staging files", func(t *testing.T) {
		d, dir := setupDataset(t)
		s, err := d.NewStaging()
		if err != nil {
			t.Fatal(err)
		}
		_ = s.file.Close()
		if _, err := Open(dir); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(s.tmpPath); !os.IsNotExist(err) {
			t.Errorf("stale staging file still present: %v", err)
		}
	})
}

// TestDataset_ConcurrentReplace checks that readers only ever observe a
// complete generation while writers keep swapping.
func TestDataset_ConcurrentReplace(t *testing.T) {
	d, _ := setupDataset(t)
	gen := func(tag string, n int) []Record {
		rows := make([]Record, n)
		for i := range rows {
			rows[i] = NewRecord([]string{"gen", "i"}, []string{tag, "x"})
		}
		return rows
	}
	if _, err := d.Replace(slices.Values(gen("a", 200))); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		tags := []string{"a", "b"}
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := d.Replace(slices.Values(gen(tags[i%2], 200))); err != nil {
				t.Errorf("Replace() error: %v", err)
				return
			}
		}
	}()

	for range 50 {
		n := 0
		tag := ""
		for rec, err := range d.Scan(t.Context()) {
			if err != nil {
				t.Fatalf("Scan() error: %v", err)
			}
			if tag == "" {
				tag = rec.Field(0)
			} else if rec.Field(0) != tag {
				t.Fatalf("mixed generations: %q then %q", tag, rec.Field(0))
			}
			n++
		}
		if n != 200 {
			t.Fatalf("Scan() yielded %d rows, want a full generation of 200", n)
		}
	}
	close(stop)
	wg.Wait()
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := WriteFileAtomic(path, []byte("one"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "two" {
		t.Errorf("content = %q, want two", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
	if err := WriteFileAtomic(filepath.Join(t.TempDir(), "missing", "f"), nil, 0o600); err == nil {
		t.Error("WriteFileAtomic into missing directory succeeded")
	}
}

func TestDataset_ScanReadError(t *testing.T) {
	d, _ := setupDataset(t)
	// A directory opens fine but fails on the first read.
	if err := os.Mkdir(d.Path(), 0o755); err != nil {
		t.Fatal(err)
	}
	var errs []error
	rows := 0
	for _, err := range d.Scan(t.Context()) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rows++
	}
	if rows != 0 {
		t.Errorf("Scan() yielded %d rows, want 0", rows)
	}
	if len(errs) != 1 {
		t.Fatalf("Scan() yielded %d errors, want exactly 1: %v", len(errs), errs)
	}
	if !errors.Is(errs[0], ErrIO) {
		t.Errorf("Scan() error = %v, want ErrIO", errs[0])
	}
}
