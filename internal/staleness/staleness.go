// Package staleness reconciles a local replica with the authoritative
// persisted snapshot after a disconnect or focus loss. Reconciliation is
// never data-destructive and never silent: any merge that touches content
// requires user confirmation first.
package staleness

import (
	"context"
	"errors"
	"fmt"
)

var ErrNoSnapshot = errors.New("no authoritative snapshot")

// Replica is the slice of the sync coordinator the detector drives.
type Replica interface {
	HasPendingChanges() bool
	ForceSave() error
	DiffAgainst(snapshot []byte) (bool, error)
	ReplaceFromSnapshot(snapshot []byte) error
	MergeFromSnapshot(snapshot []byte) error
	Rebroadcast() error
}

// SnapshotFetcher retrieves the authoritative snapshot from the durable
// store. Implementations return ErrNoSnapshot when the document has never
// been saved.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, documentID string) ([]byte, error)
}

// Confirmer asks the user before a content-touching reconciliation. The
// message states what will happen; false means leave everything as is.
type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

const (
	msgReplace = "This document was updated elsewhere. Load the latest saved version?"
	msgMerge   = "This document was updated elsewhere and you have unsaved changes. Combine both versions? Nothing will be lost."
)

type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type Options struct {
	DocumentID string
	Logger     Logger
}

// Detector runs the staleness check and merge protocol for one session.
type Detector struct {
	replica   Replica
	fetcher   SnapshotFetcher
	confirmer Confirmer
	logger    Logger
	docID     string
}

func NewDetector(replica Replica, fetcher SnapshotFetcher, confirmer Confirmer, opts Options) (*Detector, error) {
	if replica == nil || fetcher == nil || confirmer == nil {
		return nil, fmt.Errorf("replica, fetcher and confirmer are required")
	}
	if opts.DocumentID == "" {
		return nil, fmt.Errorf("document id is required")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &Detector{
		replica:   replica,
		fetcher:   fetcher,
		confirmer: confirmer,
		logger:    opts.Logger,
		docID:     opts.DocumentID,
	}, nil
}

// OnFocus runs the check when the surface regains focus.
func (d *Detector) OnFocus(ctx context.Context) error { return d.Check(ctx) }

// OnReconnect runs the check when the sync channel comes back.
func (d *Detector) OnReconnect(ctx context.Context) error { return d.Check(ctx) }

// Check fetches the authoritative snapshot, compares it with the local
// replica, and reconciles when they diverged. With no pending local
// changes the snapshot simply replaces local state. With pending changes
// the local state is saved first, then the snapshot is merged in, so both
// edit sets survive. Either way the result is rebroadcast so peers
// converge.
func (d *Detector) Check(ctx context.Context) error {
	snapshot, err := d.fetcher.FetchSnapshot(ctx, d.docID)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			return nil
		}
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	diverged, err := d.replica.DiffAgainst(snapshot)
	if err != nil {
		return fmt.Errorf("compare snapshot: %w", err)
	}
	if !diverged {
		return nil
	}

	pending := d.replica.HasPendingChanges()
	message := msgReplace
	if pending {
		message = msgMerge
	}
	ok, err := d.confirmer.Confirm(ctx, message)
	if err != nil {
		return fmt.Errorf("confirm merge: %w", err)
	}
	if !ok {
		d.logger.Printf("stale state detected for %s, reconciliation declined", d.docID)
		return nil
	}

	if !pending {
		if err := d.replica.ReplaceFromSnapshot(snapshot); err != nil {
			return fmt.Errorf("replace from snapshot: %w", err)
		}
		return d.replica.Rebroadcast()
	}

	if err := d.replica.ForceSave(); err != nil {
		return fmt.Errorf("flush before merge: %w", err)
	}
	if err := d.replica.MergeFromSnapshot(snapshot); err != nil {
		return fmt.Errorf("merge snapshot: %w", err)
	}
	return d.replica.Rebroadcast()
}
