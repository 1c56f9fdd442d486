// Manages the two API secrets stored in api.key and lookup.key.

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/maruel/lookupd/internal/jsonldb"
	"golang.org/x/time/rate"
)

// Scope selects which secret guards an operation.
type Scope int

const (
	// ScopeInternal guards administration and bulk data access.
	ScopeInternal Scope = iota
	// ScopeLookup guards the single-record lookup.
	ScopeLookup
)

func (s Scope) String() string {
	switch s {
	case ScopeInternal:
		return "internal"
	case ScopeLookup:
		return "lookup"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

func (s Scope) fileName() string {
	if s == ScopeLookup {
		return "lookup.key"
	}
	return "api.key"
}

func (s Scope) prefix() string {
	if s == ScopeLookup {
		return "csv-api-lookup-"
	}
	return "csv-api-"
}

var scopes = [...]Scope{ScopeInternal, ScopeLookup}

// MinKeyLength is the minimum length of a rotated secret.
const MinKeyLength = 8

// ErrInvalidKey is returned by Rotate when the new secret is too short.
var ErrInvalidKey = errors.New("invalid key")

// reloadDebounce coalesces the burst of events an atomic write produces.
const reloadDebounce = 100 * time.Millisecond

// NormalizeKey trims surrounding whitespace and removes CR and LF.
func NormalizeKey(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", "", "\n", "").Replace(s))
}

// KeyStore holds the current secret of each scope.
//
// Secrets are persisted one per file in the data directory and can be edited
// on disk while the server runs; see [KeyStore.Watch].
type KeyStore struct {
	dir string

	mu   sync.RWMutex
	keys [len(scopes)]string

	// rotateMu serializes Rotate so the file and memory agree.
	rotateMu sync.Mutex

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	warn    rate.Sometimes
}

// NewKeyStore loads the secrets from dir, generating and persisting any that
// are missing or empty.
func NewKeyStore(dir string) (*KeyStore, error) {
	k := &KeyStore{dir: dir, warn: rate.Sometimes{Interval: time.Minute}}
	for _, s := range scopes {
		v, err := k.read(s)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if v == "" {
			v = s.prefix() + uuid.NewString()
			if err := k.write(s, v); err != nil {
				return nil, err
			}
			slog.Info("Generated key", "scope", s, "path", k.path(s))
		}
		k.keys[s] = v
	}
	return k, nil
}

// InternalKey returns the internal secret.
func (k *KeyStore) InternalKey() string {
	return k.Key(ScopeInternal)
}

// LookupKey returns the lookup secret.
func (k *KeyStore) LookupKey() string {
	return k.Key(ScopeLookup)
}

// Key returns the secret of scope s.
func (k *KeyStore) Key(s Scope) string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.keys[s]
}

// Rotate persists secret as the new value of scope s.
//
// The secret is normalized first and must be at least MinKeyLength long.
// Memory is updated only once the file was replaced.
func (k *KeyStore) Rotate(s Scope, secret string) error {
	secret = NormalizeKey(secret)
	if len(secret) < MinKeyLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidKey, MinKeyLength)
	}
	k.rotateMu.Lock()
	defer k.rotateMu.Unlock()
	if err := k.write(s, secret); err != nil {
		return err
	}
	k.mu.Lock()
	k.keys[s] = secret
	k.mu.Unlock()
	return nil
}

// Reload rereads both key files and reports whether a secret changed.
//
// A missing or empty file is ignored so an accidental deletion does not lock
// clients out.
func (k *KeyStore) Reload() (bool, error) {
	k.rotateMu.Lock()
	defer k.rotateMu.Unlock()
	changed := false
	var errs []error
	for _, s := range scopes {
		v, err := k.read(s)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		if v == "" {
			slog.Warn("Key file missing or empty, keeping current key", "scope", s, "path", k.path(s))
			continue
		}
		k.mu.Lock()
		if k.keys[s] != v {
			k.keys[s] = v
			changed = true
			slog.Info("Reloaded key", "scope", s)
		}
		k.mu.Unlock()
	}
	return changed, errors.Join(errs...)
}

// Watch reloads the secrets whenever a key file changes on disk, until ctx
// is done or Close is called.
//
// The directory is watched rather than the files since an atomic rename
// replaces the inode.
func (k *KeyStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(k.dir); err != nil {
		_ = w.Close()
		return err
	}
	k.watchMu.Lock()
	if k.watcher != nil {
		k.watchMu.Unlock()
		_ = w.Close()
		return errors.New("already watching")
	}
	k.watcher = w
	k.watchMu.Unlock()

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		// The debounce timer fires on this goroutine so Close also waits for a
		// pending reload.
		var timer *time.Timer
		var fire <-chan time.Time
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-fire:
				fire = nil
				k.reload(ctx)
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !k.isKeyFile(event.Name) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				k.warn.Do(func() {
					slog.WarnContext(ctx, "Error watching key files", "err", err)
				})
			}
		}
	}()
	return nil
}

// Close stops watching.
func (k *KeyStore) Close() error {
	k.watchMu.Lock()
	w := k.watcher
	k.watcher = nil
	k.watchMu.Unlock()
	if w == nil {
		return nil
	}
	err := w.Close()
	k.wg.Wait()
	return err
}

func (k *KeyStore) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := k.Reload(); err != nil {
		k.warn.Do(func() {
			slog.WarnContext(ctx, "Failed to reload keys", "err", err)
		})
	}
}

func (k *KeyStore) isKeyFile(name string) bool {
	base := filepath.Base(name)
	for _, s := range scopes {
		if base == s.fileName() {
			return true
		}
	}
	return false
}

func (k *KeyStore) path(s Scope) string {
	return filepath.Join(k.dir, s.fileName())
}

// read returns the normalized content of the key file of s.
func (k *KeyStore) read(s Scope) (string, error) {
	data, err := os.ReadFile(k.path(s))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		return "", fmt.Errorf("failed to read %s: %w", s.fileName(), err)
	}
	return NormalizeKey(string(data)), nil
}

func (k *KeyStore) write(s Scope, v string) error {
	if err := jsonldb.WriteFileAtomic(k.path(s), []byte(v), 0o600); err != nil {
		return fmt.Errorf("failed to save %s key: %w", s, err)
	}
	return nil
}
