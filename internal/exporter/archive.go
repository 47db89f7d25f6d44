package exporter

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// archive key layout: big-endian unix nanos followed by the payload checksum
	archiveKeySize = 16

	archiveBucket = "requests"
)

var (
	// ErrArchiveClosed is returned by operations on a closed archive.
	ErrArchiveClosed = errors.New("archive is closed")

	// ErrEntryNotFound is returned when no archived request has the requested ID.
	ErrEntryNotFound = errors.New("archive entry not found")

	// ErrChecksumMismatch is returned when a stored request no longer matches its key.
	ErrChecksumMismatch = errors.New("archive entry checksum mismatch")
)

// ArchiveEntry describes one archived export request.
type ArchiveEntry struct {
	ID       string
	Time     time.Time
	Checksum uint64
	Size     int
}

// Archive keeps a copy of encoded export requests in a BoltDB file so they can be
// inspected or replayed later.
type Archive struct {
	db     *bolt.DB
	path   string
	closed *atomic.Bool

	sizeGauge *atomic.Int64

	logger *zap.Logger
}

// OpenArchive opens or creates the archive at path.
func OpenArchive(path string, sizeGauge *atomic.Int64, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sizeGauge == nil {
		sizeGauge = atomic.NewInt64(0)
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(archiveBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create archive bucket: %w", err)
	}

	a := &Archive{
		db:        db,
		path:      path,
		closed:    atomic.NewBool(false),
		sizeGauge: sizeGauge,
		logger:    logger,
	}
	a.updateSize()

	logger.Info("Request archive opened", zap.String("path", path))
	return a, nil
}

// Put stores payload under a key derived from ts and the payload checksum.
func (a *Archive) Put(ts time.Time, payload []byte) (ArchiveEntry, error) {
	if a.closed.Load() {
		return ArchiveEntry{}, ErrArchiveClosed
	}

	checksum := xxhash.Sum64(payload)
	key := archiveKey(ts, checksum)

	err := a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(archiveBucket)).Put(key, payload)
	})
	if err != nil {
		return ArchiveEntry{}, fmt.Errorf("failed to write archive entry: %w", err)
	}
	a.updateSize()

	return ArchiveEntry{
		ID:       hex.EncodeToString(key),
		Time:     time.Unix(0, ts.UnixNano()),
		Checksum: checksum,
		Size:     len(payload),
	}, nil
}

// List returns archived entries, oldest first. A limit of zero or less returns all of them.
func (a *Archive) List(limit int) ([]ArchiveEntry, error) {
	if a.closed.Load() {
		return nil, ErrArchiveClosed
	}

	var entries []ArchiveEntry
	err := a.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(archiveBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			entry, err := parseArchiveKey(k)
			if err != nil {
				a.logger.Warn("Skipping malformed archive key", zap.String("key", hex.EncodeToString(k)), zap.Error(err))
				continue
			}
			entry.Size = len(v)
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archive entries: %w", err)
	}
	return entries, nil
}

// Get returns a copy of the request stored under id and verifies its checksum.
func (a *Archive) Get(id string) ([]byte, error) {
	if a.closed.Load() {
		return nil, ErrArchiveClosed
	}

	key, err := hex.DecodeString(id)
	if err != nil || len(key) != archiveKeySize {
		return nil, fmt.Errorf("%w: invalid id %q", ErrEntryNotFound, id)
	}

	var payload []byte
	err = a.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(archiveBucket)).Get(key)
		if v == nil {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		// Values are only valid for the life of the transaction.
		payload = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if want := binary.BigEndian.Uint64(key[8:]); xxhash.Sum64(payload) != want {
		return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, id)
	}
	return payload, nil
}

// Prune deletes every entry archived before cutoff and returns how many were removed.
func (a *Archive) Prune(cutoff time.Time) (int, error) {
	if a.closed.Load() {
		return 0, ErrArchiveClosed
	}

	startTimer := time.Now()
	limit := make([]byte, 8)
	binary.BigEndian.PutUint64(limit, uint64(cutoff.UnixNano()))

	removed := 0
	err := a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(archiveBucket))

		// Collect first, deleting under a live cursor skips keys.
		var expired [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, limit) < 0; k, _ = c.Next() {
			expired = append(expired, append([]byte(nil), k...))
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("failed to delete archive entry: %w", err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune archive: %w", err)
	}
	a.updateSize()

	a.logger.Debug("Archive pruned",
		zap.Int("removed", removed),
		zap.Time("cutoff", cutoff),
		zap.Duration("duration", time.Since(startTimer)))
	return removed, nil
}

// Close closes the underlying database. It is safe to call more than once.
func (a *Archive) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	return nil
}

func (a *Archive) updateSize() {
	if fi, err := os.Stat(a.path); err == nil {
		a.sizeGauge.Store(fi.Size())
	}
}

func archiveKey(ts time.Time, checksum uint64) []byte {
	key := make([]byte, archiveKeySize)
	binary.BigEndian.PutUint64(key[:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(key[8:], checksum)
	return key
}

func parseArchiveKey(key []byte) (ArchiveEntry, error) {
	if len(key) != archiveKeySize {
		return ArchiveEntry{}, fmt.Errorf("archive key has %d bytes, expected %d", len(key), archiveKeySize)
	}
	return ArchiveEntry{
		ID:       hex.EncodeToString(key),
		Time:     time.Unix(0, int64(binary.BigEndian.Uint64(key[:8]))),
		Checksum: binary.BigEndian.Uint64(key[8:]),
	}, nil
}
