package scanner

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"snapvault/internal/ledger"
	"snapvault/internal/tree"
)

// ErrDigestMismatch is reported for a snapshot whose tree no longer hashes to
// the digest stored with its record.
var ErrDigestMismatch = errors.New("snapshot digest mismatch")

// Problem is a record whose snapshot failed verification.
type Problem struct {
	ID   uint64
	Path string
	Err  error
}

func (p Problem) String() string {
	return fmt.Sprintf("scan %d (%s): %v", p.ID, p.Path, p.Err)
}

// VerifySnapshots loads every record's snapshot with up to workers at a time
// and recomputes its digest. done is called once per record, from any
// goroutine. Records without a digest only need a readable snapshot.
// Problems keep the order of records.
func VerifySnapshots(ctx context.Context, records []ledger.Record, workers int, done func(ledger.Record)) ([]Problem, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]error, len(records))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rec := range records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = verifySnapshot(rec)
			if done != nil {
				done(rec)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var problems []Problem
	for i, err := range results {
		if err != nil {
			problems = append(problems, Problem{ID: records[i].ID, Path: records[i].SnapshotPath, Err: err})
		}
	}
	return problems, nil
}

func verifySnapshot(rec ledger.Record) error {
	snapshot, err := tree.Load(rec.SnapshotPath)
	if err != nil {
		return err
	}
	if rec.Digest == "" {
		return nil
	}
	digest, err := tree.Digest(snapshot.Tree)
	if err != nil {
		return err
	}
	if digest != rec.Digest {
		return fmt.Errorf("%w: recorded %s, computed %s", ErrDigestMismatch, rec.Digest, digest)
	}
	return nil
}
