package accesslog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestLog(t *testing.T, opts Options) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "api-requests.ndjson"), opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return l
}

func TestLog_AppendAndVerify(t *testing.T) {
	l := newTestLog(t, Options{})
	var prev string
	for i := range 5 {
		e, err := l.Append(Entry{Method: "POST", Path: "/api/lookup", Status: 200, IP: "1.2.3.4", DurationMs: 1.25})
		if err != nil {
			t.Fatal(err)
		}
		if e.ID.IsZero() {
			t.Errorf("entry %d: expected an ID", i)
		}
		if e.Prev != prev {
			t.Errorf("entry %d: expected prev %q, got %q", i, prev, e.Prev)
		}
		prev = e.Hash
	}
	res, err := l.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Entries != 5 {
		t.Errorf("expected valid chain of 5, got %+v", res)
	}
}

func TestLog_VerifyDetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(lines [][]byte) [][]byte
		reason string
		at     int
	}{
		{
			"edited field",
			func(lines [][]byte) [][]byte {
				lines[1] = bytes.Replace(lines[1], []byte(`"status":200`), []byte(`"status":404`), 1)
				return lines
			},
			"hash mismatch",
			2,
		},
		{
			"removed line",
			func(lines [][]byte) [][]byte {
				return append(lines[:1], lines[2:]...)
			},
			"broken link to previous entry",
			2,
		},
		{
			"garbage line",
			func(lines [][]byte) [][]byte {
				lines[2] = []byte("{not json")
				return lines
			},
			"malformed entry",
			3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLog(t, Options{})
			for range 4 {
				if _, err := l.Append(Entry{Method: "GET", Path: "/api/data", Status: 200}); err != nil {
					t.Fatal(err)
				}
			}
			data, err := os.ReadFile(l.Path())
			if err != nil {
				t.Fatal(err)
			}
			lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
			lines = tt.tamper(lines)
			if err := os.WriteFile(l.Path(), append(bytes.Join(lines, []byte("\n")), '\n'), 0o644); err != nil {
				t.Fatal(err)
			}
			res, err := l.Verify()
			if err != nil {
				t.Fatal(err)
			}
			if res.Valid || res.Reason != tt.reason || res.BrokenAt != tt.at {
				t.Errorf("expected %q at %d, got %+v", tt.reason, tt.at, res)
			}
		})
	}
}

func TestLog_TruncationStartsNewChain(t *testing.T) {
	l := newTestLog(t, Options{})
	if _, err := l.Append(Entry{Path: "/api/check"}); err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(l.Path(), 0); err != nil {
		t.Fatal(err)
	}
	e, err := l.Append(Entry{Path: "/api/check"})
	if err != nil {
		t.Fatal(err)
	}
	if e.Prev != "" {
		t.Errorf("expected empty prev after truncation, got %q", e.Prev)
	}
	if got := l.Recent(10); len(got) != 1 {
		t.Errorf("expected replay buffer reset, got %d entries", len(got))
	}
	if res, err := l.Verify(); err != nil || !res.Valid {
		t.Errorf("expected valid chain, got %+v, %v", res, err)
	}
}

func TestLog_ReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api-requests.ndjson")
	l, err := Open(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	first, err := l.Append(Entry{Path: "/api/search", UserAgent: "bad\xffutf8"})
	if err != nil {
		t.Fatal(err)
	}
	l2, err := Open(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := l2.Append(Entry{Path: "/api/search"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Prev != first.Hash {
		t.Errorf("expected prev %q, got %q", first.Hash, second.Prev)
	}
	if got := l2.Recent(10); len(got) != 2 {
		t.Errorf("expected 2 replayed entries, got %d", len(got))
	}
	if res, err := l2.Verify(); err != nil || !res.Valid || res.Entries != 2 {
		t.Errorf("expected valid chain of 2, got %+v, %v", res, err)
	}
}

func TestLog_Recent(t *testing.T) {
	l := newTestLog(t, Options{ReplayPaths: []string{"/api/lookup", "/api/search"}, ReplayLimit: 3})
	paths := []string{"/api/lookup", "/api/upload", "/api/search", "/api/lookup", "/api/clear", "/api/search"}
	for i, p := range paths {
		if _, err := l.Append(Entry{Path: p, Status: 200 + i}); err != nil {
			t.Fatal(err)
		}
	}
	got := l.Recent(50)
	want := []int{205, 203, 202}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, e := range got {
		if e.Status != want[i] {
			t.Errorf("entry %d: expected status %d, got %d", i, want[i], e.Status)
		}
	}
	if got := l.Recent(1); len(got) != 1 || got[0].Status != 205 {
		t.Errorf("expected most recent entry only, got %+v", got)
	}
	if got := l.Recent(0); len(got) != 0 {
		t.Errorf("expected no entries, got %d", len(got))
	}
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := newTestLog(t, Options{})
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			for j := range 10 {
				if _, err := l.Append(Entry{Path: fmt.Sprintf("/api/%d/%d", i, j), Time: time.Now()}); err != nil {
					t.Error(err)
				}
			}
		})
	}
	wg.Wait()
	res, err := l.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Entries != 200 {
		t.Errorf("expected valid chain of 200, got %+v", res)
	}
}

func TestLog_VerifyMissingFile(t *testing.T) {
	l := newTestLog(t, Options{})
	if err := os.Remove(l.Path()); err != nil {
		t.Fatal(err)
	}
	res, err := l.Verify()
	if err != nil || !res.Valid || res.Entries != 0 {
		t.Errorf("expected empty valid result, got %+v, %v", res, err)
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "****"},
		{"exactly12chr", "****"},
		{"csv-api-1234-5678-abcd", "csv-...abcd"},
	}
	for _, tt := range tests {
		if got := MaskToken(tt.in); got != tt.want {
			t.Errorf("MaskToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripMappedPrefix(t *testing.T) {
	if got := StripMappedPrefix("::ffff:10.0.0.1"); got != "10.0.0.1" {
		t.Errorf("expected 10.0.0.1, got %q", got)
	}
	if got := StripMappedPrefix("::1"); got != "::1" {
		t.Errorf("expected ::1, got %q", got)
	}
}
