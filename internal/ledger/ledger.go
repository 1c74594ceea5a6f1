// Package ledger is the durable history of scans.
//
// Records live under "scan/<id>" as JSON. A secondary index
// "start/<start-time><id>" orders them by start time, and "meta/last_id"
// holds the id counter. All keys use big-endian integers so byte order
// matches numeric order.
package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrUnavailable wraps any failure of the underlying store.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrNotFound is returned when no record matches a query.
	ErrNotFound = errors.New("scan record not found")
)

const (
	// ListTimeFormat is how start times appear in directory entries.
	ListTimeFormat = "2006-01-02 15:04:05"
)

var (
	scanPrefix  = []byte("scan/")
	startPrefix = []byte("start/")
	lastIDKey   = []byte("meta/last_id")
)

// Record is one persisted scan.
type Record struct {
	ID             uint64    `json:"id"`
	SnapshotPath   string    `json:"snapshot_path"`
	ArchivePath    string    `json:"archive_path"`
	TotalSize      string    `json:"total_size"`
	ScanDurationMs int64     `json:"scan_duration_ms"`
	StartTime      time.Time `json:"start_time"`
	Digest         string    `json:"digest,omitempty"`
}

func (r Record) String() string {
	return fmt.Sprintf("ScanRecord(id=%d, snapshot=%s, archive=%s, size=%s, duration=%d ms, start=%s, digest=%s)",
		r.ID, r.SnapshotPath, r.ArchivePath, r.TotalSize, r.ScanDurationMs, r.StartTime.Format(ListTimeFormat), r.Digest)
}

// DirectoryEntry is the listing projection of a Record.
type DirectoryEntry struct {
	Date string `json:"date"`
	ID   string `json:"id"`
}

// Ledger is an append-only, BadgerDB backed scan history. It is safe for
// concurrent use; inserts are serialized.
type Ledger struct {
	db     *badger.DB
	logger *slog.Logger
	mu     sync.Mutex
}

// Open opens or creates the ledger.
func Open(cfg Config) (*Ledger, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, logger: logger}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Insert stores rec under a new id and returns it. StartTime is truncated to
// the second. With SyncWrites the record is on disk when Insert returns.
func (l *Ledger) Insert(ctx context.Context, rec Record) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec.StartTime = rec.StartTime.Truncate(time.Second)

	err := l.db.Update(func(txn *badger.Txn) error {
		last, err := readUint64(txn, lastIDKey)
		if err != nil {
			return err
		}
		rec.ID = last + 1

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(scanKey(rec.ID), data); err != nil {
			return err
		}
		if err := txn.Set(startKey(rec.StartTime, rec.ID), nil); err != nil {
			return err
		}
		return txn.Set(lastIDKey, uint64Bytes(rec.ID))
	})
	if err != nil {
		return 0, fmt.Errorf("%w: insert scan record: %w", ErrUnavailable, err)
	}

	l.logger.Debug("scan record inserted", "id", rec.ID, "start", rec.StartTime)
	return rec.ID, nil
}

// ByID returns the record with the given id.
func (l *Ledger) ByID(ctx context.Context, id uint64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *Record
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	if err != nil {
		return nil, wrap("get scan record", err)
	}
	return rec, nil
}

// MostRecent returns the record with the latest start time.
func (l *Ledger) MostRecent(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *Record
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(reverseKeysOnly())
		defer it.Close()

		it.Seek(startSeekLast())
		if !it.ValidForPrefix(startPrefix) {
			return ErrNotFound
		}
		var err error
		rec, err = getRecord(txn, idFromStartKey(it.Item().Key()))
		return err
	})
	if err != nil {
		return nil, wrap("get most recent scan record", err)
	}
	return rec, nil
}

// PredecessorSnapshotPath returns the snapshot path of the record with the
// greatest start time strictly before that of id. ok is false when id is
// unknown or is the earliest record.
func (l *Ledger) PredecessorSnapshotPath(ctx context.Context, id uint64) (path string, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	err = l.db.View(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}

		it := txn.NewIterator(reverseKeysOnly())
		defer it.Close()

		// In reverse mode Seek lands on the largest key <= the seek key. The
		// bare time prefix sorts before every key with that time, so this is
		// the newest record that started strictly earlier.
		it.Seek(startTimePrefix(rec.StartTime))
		if !it.ValidForPrefix(startPrefix) {
			return nil
		}
		prev, err := getRecord(txn, idFromStartKey(it.Item().Key()))
		if err != nil {
			return err
		}
		path, ok = prev.SnapshotPath, true
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("get predecessor", err)
	}
	return path, ok, nil
}

// Entries lists every record, newest first.
func (l *Ledger) Entries(ctx context.Context) ([]DirectoryEntry, error) {
	records, err := l.Records(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]DirectoryEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, DirectoryEntry{
			Date: rec.StartTime.Format(ListTimeFormat),
			ID:   fmt.Sprint(rec.ID),
		})
	}
	return entries, nil
}

// Records returns every record, newest first.
func (l *Ledger) Records(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make([]Record, 0)
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(reverseKeysOnly())
		defer it.Close()

		for it.Seek(startSeekLast()); it.ValidForPrefix(startPrefix); it.Next() {
			rec, err := getRecord(txn, idFromStartKey(it.Item().Key()))
			if err != nil {
				return err
			}
			records = append(records, *rec)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list scan records", err)
	}
	return records, nil
}

// IsEmpty reports whether no record has been inserted.
func (l *Ledger) IsEmpty(ctx context.Context) (bool, error) {
	_, err := l.MostRecent(ctx)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// Clear drops every record and resets the id counter.
func (l *Ledger) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.db.DropAll(); err != nil {
		return fmt.Errorf("%w: clear: %w", ErrUnavailable, err)
	}
	l.logger.Info("ledger cleared")
	return nil
}

func wrap(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func getRecord(txn *badger.Txn, id uint64) (*Record, error) {
	item, err := txn.Get(scanKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("decode scan record %d: %w", id, err)
	}
	return &rec, nil
}

func readUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt counter %s", key)
		}
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, err
}

func reverseKeysOnly() badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	return opts
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func scanKey(id uint64) []byte {
	return append(append([]byte{}, scanPrefix...), uint64Bytes(id)...)
}

// startTimePrefix encodes t with the sign bit flipped so pre-1970 times
// still sort before later ones.
func startTimePrefix(t time.Time) []byte {
	return append(append([]byte{}, startPrefix...), uint64Bytes(uint64(t.Unix())^(1<<63))...)
}

func startKey(t time.Time, id uint64) []byte {
	return append(startTimePrefix(t), uint64Bytes(id)...)
}

// startSeekLast sorts after every start key.
func startSeekLast() []byte {
	key := append([]byte{}, startPrefix...)
	for i := 0; i < 16; i++ {
		key = append(key, 0xff)
	}
	return key
}

func idFromStartKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
