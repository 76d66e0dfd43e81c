// Package snapshot persists append-only, timestamp-ordered listing
// versions and detects changes between an incoming record and the most
// recently stored one.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"bazos-watcher/pkg/listing"
)

// fileTimeLayout is fixed-width UTC so lexical filename order equals
// chronological order.
const fileTimeLayout = "2006-01-02_150405"

// ErrNotFound indicates no snapshot exists for the requested listing.
var ErrNotFound = errors.New("snapshot: not found")

// WriteConflictError reports a concurrent append for the same listing and
// capture second. The operation failed; the caller may retry with a later
// timestamp.
type WriteConflictError struct {
	Source     string
	Category   string
	ListingID  string
	CapturedAt time.Time
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("snapshot write conflict: %s/%s/%s at %s",
		e.Source, e.Category, e.ListingID, e.CapturedAt.UTC().Format(fileTimeLayout))
}

// IsWriteConflict checks if an error is a snapshot write conflict.
func IsWriteConflict(err error) bool {
	var conflict *WriteConflictError
	return errors.As(err, &conflict)
}

// Store handles snapshot persistence on the local filesystem or in a
// Cloud Storage bucket. Snapshots live under source/category/listingID/,
// one file per capture; nothing is ever updated or deleted.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a snapshot store. A non-empty localPath selects the local
// filesystem backend; otherwise client and bucket are used.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// validComponent rejects key parts that would escape the storage
// namespace.
func validComponent(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\")
}

func snapshotKey(source, category, id string, capturedAt time.Time) (string, error) {
	for _, part := range []string{source, category, id} {
		if !validComponent(part) {
			return "", fmt.Errorf("invalid snapshot key component %q", part)
		}
	}
	return path.Join(source, category, id, capturedAt.UTC().Format(fileTimeLayout)+".json"), nil
}

// Append writes a new immutable snapshot. The write is exclusive: a
// snapshot for the same listing and capture second that already exists
// surfaces as a WriteConflictError, never an overwrite.
func (s *Store) Append(ctx context.Context, source, category, id string, det listing.DetailListing, capturedAt time.Time) error {
	key, err := snapshotKey(source, category, id, capturedAt)
	if err != nil {
		return err
	}

	snap := listing.Snapshot{
		CapturedAt: capturedAt.UTC(),
		Source:     source,
		Category:   category,
		ListingID:  id,
		Listing:    det,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if s.localPath != "" {
		return s.appendLocal(key, data, &snap)
	}
	return s.appendBucket(ctx, key, data, &snap)
}

// appendLocal writes the snapshot to a temp file and hard-links it into
// place: readers never observe partial content and an existing name makes
// the link fail instead of overwriting.
func (s *Store) appendLocal(key string, data []byte, snap *listing.Snapshot) error {
	finalPath := filepath.Join(s.localPath, filepath.FromSlash(key))
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			s.logger.Warn("Failed to remove temp snapshot", "path", tmpPath, "error", removeErr)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Link(tmpPath, finalPath); err != nil {
		if os.IsExist(err) {
			return &WriteConflictError{
				Source:     snap.Source,
				Category:   snap.Category,
				ListingID:  snap.ListingID,
				CapturedAt: snap.CapturedAt,
			}
		}
		return fmt.Errorf("link snapshot into place: %w", err)
	}

	s.logger.Debug("Snapshot appended", "path", finalPath, "listing_id", snap.ListingID)
	return nil
}

func (s *Store) appendBucket(ctx context.Context, key string, data []byte, snap *listing.Snapshot) error {
	err := retry.Do(
		func() error {
			// DoesNotExist makes the create exclusive; a 412 means a
			// concurrent writer won.
			w := s.client.Bucket(s.bucket).Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				var apiErr *googleapi.Error
				if errors.As(closeErr, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
					return retry.Unrecoverable(&WriteConflictError{
						Source:     snap.Source,
						Category:   snap.Category,
						ListingID:  snap.ListingID,
						CapturedAt: snap.CapturedAt,
					})
				}
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying snapshot append after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		if IsWriteConflict(err) {
			return err
		}
		return fmt.Errorf("append after retries: %w", err)
	}

	s.logger.Debug("Snapshot appended", "key", key, "listing_id", snap.ListingID)
	return nil
}

// Latest returns the most recent snapshot for a listing, or ErrNotFound.
func (s *Store) Latest(ctx context.Context, source, category, id string) (*listing.Snapshot, error) {
	keys, err := s.listKeys(ctx, source, category, id)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ErrNotFound
	}
	return s.load(ctx, keys[len(keys)-1])
}

// History returns all snapshots for a listing, newest first. Equal
// timestamps cannot occur: Append rejects them as conflicts.
func (s *Store) History(ctx context.Context, source, category, id string) ([]*listing.Snapshot, error) {
	keys, err := s.listKeys(ctx, source, category, id)
	if err != nil {
		return nil, err
	}

	snaps := make([]*listing.Snapshot, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		snap, err := s.load(ctx, keys[i])
		if err != nil {
			s.logger.Warn("Failed to load snapshot", "key", keys[i], "error", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Exists reports whether any snapshot is stored for the listing.
func (s *Store) Exists(ctx context.Context, source, category, id string) (bool, error) {
	keys, err := s.listKeys(ctx, source, category, id)
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// Stats counts stored snapshots per "source/category".
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)

	if s.localPath != "" {
		err := filepath.WalkDir(s.localPath, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isSnapshotName(d.Name()) {
				return nil
			}
			rel, relErr := filepath.Rel(s.localPath, p)
			if relErr != nil {
				return relErr
			}
			parts := strings.Split(filepath.ToSlash(rel), "/")
			if len(parts) == 4 {
				counts[parts[0]+"/"+parts[1]]++
			}
			return nil
		})
		if err != nil {
			if os.IsNotExist(err) {
				return counts, nil
			}
			return nil, fmt.Errorf("walk snapshot directory: %w", err)
		}
		return counts, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		parts := strings.Split(attrs.Name, "/")
		if len(parts) == 4 && isSnapshotName(parts[3]) {
			counts[parts[0]+"/"+parts[1]]++
		}
	}
	return counts, nil
}

// isSnapshotName filters out temp files and foreign objects.
func isSnapshotName(name string) bool {
	if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
		return false
	}
	_, err := time.Parse(fileTimeLayout, strings.TrimSuffix(name, ".json"))
	return err == nil
}

// listKeys returns the snapshot keys for one listing in ascending
// (chronological) order.
func (s *Store) listKeys(ctx context.Context, source, category, id string) ([]string, error) {
	prefix, err := snapshotKey(source, category, id, time.Time{})
	if err != nil {
		return nil, err
	}
	prefix = path.Dir(prefix) + "/"

	if s.localPath != "" {
		dir := filepath.Join(s.localPath, filepath.FromSlash(prefix))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("read snapshot directory: %w", err)
		}
		var keys []string
		for _, entry := range entries {
			if entry.IsDir() || !isSnapshotName(entry.Name()) {
				continue
			}
			keys = append(keys, prefix+entry.Name())
		}
		sort.Strings(keys)
		return keys, nil
	}

	var keys []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		if isSnapshotName(path.Base(attrs.Name)) {
			keys = append(keys, attrs.Name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) load(ctx context.Context, key string) (*listing.Snapshot, error) {
	var data []byte

	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, filepath.FromSlash(key)))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
	} else {
		var readData []byte
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(ErrNotFound)
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				readData, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(2*time.Minute),
			retry.MaxJitter(10*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying snapshot load after error", "attempt", n, "key", key, "error", retryErr)
			}),
		)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("load after retries: %w", err)
		}
		data = readData
	}

	var snap listing.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
