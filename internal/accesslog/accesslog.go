// Package accesslog records API requests in a tamper-evident NDJSON file.
//
// Every entry carries the hash of its predecessor, so editing or removing a
// line in the middle of the file breaks the chain and is reported by
// [Log.Verify]. Truncating the file to zero starts a new chain.
package accesslog

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/maruel/ksid"
	"golang.org/x/crypto/blake2b"
)

// Entry is one recorded request.
type Entry struct {
	ID         ksid.ID   `json:"id"`
	Time       time.Time `json:"time"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMs float64   `json:"durationMs"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"userAgent"`
	Token      string    `json:"token"`
	Country    string    `json:"country,omitempty"`
	Prev       string    `json:"prev"`
	Hash       string    `json:"hash"`
}

// digest returns the hex BLAKE2b-256 of every field except Hash.
func (e *Entry) digest() string {
	// A JSON array is unambiguous regardless of the field content.
	payload, _ := json.Marshal([]any{
		e.Prev, e.ID.String(), e.Time.UnixMilli(), e.Method, e.Path, e.Status,
		e.DurationMs, e.IP, e.UserAgent, e.Token, e.Country,
	})
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Options configures a Log.
type Options struct {
	// ReplayPaths selects the entries [Log.Recent] returns. Empty means all.
	ReplayPaths []string
	// ReplayLimit bounds the entries kept in memory for Recent.
	ReplayLimit int
}

// Log appends entries to an NDJSON file.
//
// Log is safe for concurrent use. Entries are written in the order Append is
// called.
type Log struct {
	path  string
	paths []string

	mu   sync.Mutex
	prev string
	ring []Entry
	next int
	full bool
}

// Open opens or creates the log at path and restores the chain head and the
// replay buffer from its content.
func Open(path string, opts Options) (*Log, error) {
	if opts.ReplayLimit <= 0 {
		opts.ReplayLimit = 1000
	}
	l := &Log{
		path:  path,
		paths: slices.Clone(opts.ReplayPaths),
		ring:  make([]Entry, opts.ReplayLimit),
	}
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644) //nolint:gosec // G304: path is constructed from the data dir
	if err != nil {
		return nil, fmt.Errorf("failed to open access log: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	skipped := 0
	err = readEntries(f, func(e *Entry, ok bool) bool {
		if !ok {
			skipped++
			return true
		}
		l.prev = e.Hash
		l.remember(e)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read access log: %w", err)
	}
	if skipped != 0 {
		slog.Warn("Access log has malformed lines", "path", path, "count", skipped)
	}
	return l, nil
}

// Path returns the path of the log file.
func (l *Log) Path() string {
	return l.path
}

// Append completes e with its ID and chain fields and writes it.
//
// The file is reopened on every call, so a log truncated or removed behind
// the server's back starts a new chain instead of failing.
func (l *Log) Append(e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return e, fmt.Errorf("failed to open access log: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return e, fmt.Errorf("failed to stat access log: %w", err)
	}
	if fi.Size() == 0 && l.prev != "" {
		l.prev = ""
		clear(l.ring)
		l.next = 0
		l.full = false
	}
	if e.ID.IsZero() {
		e.ID = ksid.NewID()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.Time = e.Time.UTC().Truncate(time.Millisecond)
	// JSON replaces invalid UTF-8, which would change the digest on reread.
	for _, p := range []*string{&e.Method, &e.Path, &e.IP, &e.UserAgent, &e.Token, &e.Country} {
		*p = strings.ToValidUTF8(*p, "\uFFFD")
	}
	e.Prev = l.prev
	e.Hash = e.digest()
	data, err := json.Marshal(&e)
	if err != nil {
		_ = f.Close()
		return e, err
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return e, fmt.Errorf("failed to write access log: %w", err)
	}
	if err := f.Close(); err != nil {
		return e, fmt.Errorf("failed to close access log: %w", err)
	}
	l.prev = e.Hash
	l.remember(&e)
	return e, nil
}

// Recent returns up to limit replayable entries, most recent first.
func (l *Log) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.next
	if l.full {
		n = len(l.ring)
	}
	limit = min(max(limit, 0), n)
	out := make([]Entry, 0, limit)
	for i := range limit {
		idx := (l.next - 1 - i + len(l.ring)) % len(l.ring)
		out = append(out, l.ring[idx])
	}
	return out
}

// remember adds e to the replay ring buffer if its path is replayable.
//
// Must be called with mu held.
func (l *Log) remember(e *Entry) {
	if len(l.paths) != 0 && !slices.Contains(l.paths, e.Path) {
		return
	}
	l.ring[l.next] = *e
	l.next++
	if l.next == len(l.ring) {
		l.next = 0
		l.full = true
	}
}

// VerifyResult is the outcome of Verify.
type VerifyResult struct {
	// Valid is true when every entry links to its predecessor and its hash
	// matches its content.
	Valid bool
	// Entries is the number of entries checked.
	Entries int
	// BrokenAt is the 1-based position of the first invalid entry, or 0.
	// Blank lines are not counted.
	BrokenAt int
	// Reason describes the first failure.
	Reason string
}

// Verify walks the file and checks the hash chain.
//
// Only the content present when Verify is called is checked; entries
// appended concurrently are not.
func (l *Log) Verify() (VerifyResult, error) {
	l.mu.Lock()
	fi, err := os.Stat(l.path)
	l.mu.Unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return VerifyResult{Valid: true}, nil
		}
		return VerifyResult{}, fmt.Errorf("failed to stat access log: %w", err)
	}
	f, err := os.Open(l.path)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to open access log: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	res := VerifyResult{Valid: true}
	prev := ""
	line := 0
	err = readEntries(io.LimitReader(f, fi.Size()), func(e *Entry, ok bool) bool {
		line++
		switch {
		case !ok:
			res.Reason = "malformed entry"
		case e.Prev != prev:
			res.Reason = "broken link to previous entry"
		case e.digest() != e.Hash:
			res.Reason = "hash mismatch"
		default:
			res.Entries++
			prev = e.Hash
			return true
		}
		res.Valid = false
		res.BrokenAt = line
		return false
	})
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to read access log: %w", err)
	}
	return res, nil
}

// readEntries calls fn for every non blank line of r, with ok false for lines
// that do not decode. It stops early when fn returns false.
func readEntries(r io.Reader, fn func(e *Entry, ok bool) bool) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) != 0 {
			var e Entry
			ok := json.Unmarshal(line, &e) == nil
			if !fn(&e, ok) {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// MaskToken hides a credential for display. Tokens longer than 12
// characters keep their first and last 4 characters.
func MaskToken(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 12:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "****"
	}
}

// StripMappedPrefix removes the IPv4-mapped IPv6 prefix from ip.
func StripMappedPrefix(ip string) string {
	return strings.TrimPrefix(ip, "::ffff:")
}
