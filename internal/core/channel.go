// Package core implements sessions over an object graph: contexts that
// register objects by identity, record every mutation in a ledger, apply
// delete rules and synchronize changes with a parent context or with the
// database through the Domain.
package core

import (
	"context"

	"graphsync/internal/event"
	"graphsync/internal/flush"
	"graphsync/internal/metadata"
	"graphsync/pkg/domain"
)

// Channel is the parent of a Context: the Domain for root-level contexts or
// another Context for nested ones. Contexts call their channel without
// holding any of their own locks.
type Channel interface {
	Resolver() *metadata.Resolver
	Events() *event.Manager

	root() *Domain
	objectData(ctx context.Context, id domain.ObjectID) (objectData, error)
	selectObjects(ctx context.Context, q domain.ObjectQuery) ([]objectData, error)
	related(ctx context.Context, source domain.ObjectID, rel *domain.Relationship) ([]objectData, error)
	iterate(ctx context.Context, q domain.ObjectQuery, fn func(DataRow) error) error
	sync(ctx context.Context, origin *Context, cascade bool) (flush.Result, error)
	rollback()
}

// DataRow is one streamed row: the identity and the primary table columns.
type DataRow struct {
	ID       domain.ObjectID
	Snapshot domain.Snapshot
}

// objectData is the state of one object as a channel sees it. snapshot is set
// when the data comes from the snapshot store or the database and is zero for
// the uncommitted state of a parent context. hollow data carries only the
// identity.
type objectData struct {
	id       domain.ObjectID
	values   map[string]any
	toOne    map[string]domain.ObjectID
	snapshot domain.Snapshot
	hollow   bool
}

func dataFromSnapshot(e *domain.Entity, id domain.ObjectID, snap domain.Snapshot) objectData {
	values, toOne := metadata.ObjectValues(e, snap)
	return objectData{id: id, values: values, toOne: toOne, snapshot: snap}
}
