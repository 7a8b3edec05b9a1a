package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/alpacahq/colstore/column"
	"github.com/alpacahq/colstore/utils/errs"
	"github.com/alpacahq/colstore/utils/log"
)

// ColumnSyncer pulls columns from a master.
type ColumnSyncer interface {
	ListColumns(ctx context.Context, pattern string) ([]string, error)
	SyncColumn(ctx context.Context, name string, cs *Consumer) (int64, error)
}

// ReplicaStore holds the replica's columns.
type ReplicaStore interface {
	// AcquireOrCreate returns the named column for exclusive use until
	// release is called, creating it if needed.
	AcquireOrCreate(name string) (c *column.VarColumn, release func(), err error)
}

// Receiver is the replica loop. Every interval it lists the master's columns
// matching its patterns and syncs each of them.
type Receiver struct {
	client   ColumnSyncer
	store    ReplicaStore
	patterns []string
	interval time.Duration

	RetryInterval     time.Duration
	RetryBackoffCoeff int
	// ChunkSize, when set, is the read buffer size of each Consumer.
	ChunkSize int
}

func NewReceiver(client ColumnSyncer, store ReplicaStore, patterns []string, interval time.Duration) *Receiver {
	const (
		defaultRetryInterval = 10 * time.Second
		defaultBackoffCoeff  = 2
	)
	return &Receiver{
		client:            client,
		store:             store,
		patterns:          patterns,
		interval:          interval,
		RetryInterval:     defaultRetryInterval,
		RetryBackoffCoeff: defaultBackoffCoeff,
	}
}

// Run polls the master until the context is canceled or a non-retryable
// error occurs. Retryable failures of a poll are retried with backoff.
func (r *Receiver) Run(ctx context.Context) error {
	poll := func(ctx context.Context) error {
		_, err := r.SyncOnce(ctx)
		return err
	}
	for {
		err := NewRetryer(poll, r.RetryInterval, r.RetryBackoffCoeff, 0).Run(ctx)
		if ctx.Err() != nil {
			log.Info("shutdown replication receiver...")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "replication receiver stopped")
		}
		t := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Info("shutdown replication receiver...")
			return nil
		case <-t.C:
		}
	}
}

// SyncOnce runs one exchange for every matching column and returns the delta
// bytes applied. Columns the master rejects, or whose delta is corrupt, are
// skipped until the next poll. Transport failures abort the poll with
// ErrRetryable.
func (r *Receiver) SyncOnce(ctx context.Context) (int64, error) {
	names, err := r.columns(ctx)
	if err != nil {
		return 0, retryable(err)
	}
	var total int64
	for _, name := range names {
		c, release, err := r.store.AcquireOrCreate(name)
		if err != nil {
			return total, errors.Wrapf(err, "failed to open replica column %s", name)
		}
		cs := NewConsumer(c)
		if r.ChunkSize > 0 {
			cs.ChunkSize = r.ChunkSize
		}
		n, err := r.client.SyncColumn(ctx, name, cs)
		release()
		total += n
		switch {
		case err == nil:
		case errors.Is(err, ErrRejected), errors.Is(err, errs.ErrCorruptData):
			log.Error("skipping replication of %s: %v", name, err)
		default:
			return total, retryable(err)
		}
	}
	return total, nil
}

func (r *Receiver) columns(ctx context.Context) ([]string, error) {
	var names []string
	seen := map[string]bool{}
	for _, pattern := range r.patterns {
		matched, err := r.client.ListColumns(ctx, pattern)
		if err != nil {
			return nil, err
		}
		for _, name := range matched {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func retryable(err error) error {
	if errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}
