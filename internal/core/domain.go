package core

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"graphsync/internal/commitlog"
	"graphsync/internal/event"
	"graphsync/internal/flush"
	"graphsync/internal/metadata"
	"graphsync/internal/observability"
	"graphsync/internal/snapshot"
	"graphsync/pkg/domain"
)

// Option configures a Domain.
type Option func(*Domain)

// WithLogger sets the logger used by the domain and its contexts.
func WithLogger(log *zap.Logger) Option {
	return func(d *Domain) {
		if log != nil {
			d.log = log
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(d *Domain) { d.metrics = observability.OrNop(m) }
}

// WithEvents shares an event manager with other components.
func WithEvents(m *event.Manager) Option {
	return func(d *Domain) {
		if m != nil {
			d.events = m
		}
	}
}

// WithSnapshotCacheSize bounds the shared snapshot cache.
func WithSnapshotCacheSize(n int) Option {
	return func(d *Domain) { d.cacheSize = n }
}

// WithRules evaluates engine against the changes of every commit and blocks
// commits with blocking violations.
func WithRules(engine *domain.RulesEngine) Option {
	return func(d *Domain) {
		d.rules = engine
		d.validate = true
	}
}

// WithValidateOnCommit toggles rule evaluation on commit.
func WithValidateOnCommit(enabled bool) Option {
	return func(d *Domain) { d.validate = enabled }
}

// WithCommitListener registers a listener receiving the change map of every
// database commit.
func WithCommitListener(l commitlog.Listener) Option {
	return func(d *Domain) {
		if l != nil {
			d.listeners = append(d.listeners, l)
		}
	}
}

// Domain is the root channel: it owns the data node, the shared snapshot
// cache and the flush pipeline. Root-level contexts commit into it.
type Domain struct {
	name      string
	resolver  *metadata.Resolver
	node      domain.DataNode
	snapshots *snapshot.Store
	events    *event.Manager
	flusher   *flush.Action
	rules     *domain.RulesEngine
	validate  bool
	listeners []commitlog.Listener
	log       *zap.Logger
	metrics   observability.MetricsRecorder
	cacheSize int
	callbacks callbackRegistry
	pending   []pendingCallback

	faults   singleflight.Group
	contexts atomic.Uint64
}

// NewDomain constructs a domain over node for the entities of resolver.
func NewDomain(name string, resolver *metadata.Resolver, node domain.DataNode, opts ...Option) (*Domain, error) {
	if resolver == nil || node == nil {
		return nil, domain.ErrProgrammer.New("domain %q needs a resolver and a data node", name)
	}
	d := &Domain{
		name:     name,
		resolver: resolver,
		node:     node,
		events:   event.NewManager(),
		log:      zap.NewNop(),
		metrics:  observability.Nop{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.Named("domain").With(zap.String("domain", name))
	for _, cb := range d.pending {
		if err := d.AddCallback(cb.event, cb.entity, cb.fn); err != nil {
			return nil, err
		}
	}
	d.pending = nil
	store, err := snapshot.New(snapshot.Options{
		Name:    name,
		Size:    d.cacheSize,
		Events:  d.events,
		Log:     d.log,
		Metrics: d.metrics,
	})
	if err != nil {
		return nil, err
	}
	d.snapshots = store
	d.flusher = flush.New(resolver, flush.WithLogger(d.log), flush.WithMetrics(d.metrics))
	return d, nil
}

// Name returns the domain name.
func (d *Domain) Name() string { return d.name }

// Node returns the data node.
func (d *Domain) Node() domain.DataNode { return d.node }

// Snapshots returns the shared snapshot cache.
func (d *Domain) Snapshots() *snapshot.Store { return d.snapshots }

// Resolver implements Channel.
func (d *Domain) Resolver() *metadata.Resolver { return d.resolver }

// Events implements Channel.
func (d *Domain) Events() *event.Manager { return d.events }

// NewContext returns a root-level context sharing the domain's snapshot
// cache.
func (d *Domain) NewContext() *Context {
	return newContext(d, d.snapshots)
}

// Close detaches every listener from the snapshot cache. The data node is
// owned by the caller.
func (d *Domain) Close() {
	d.snapshots.Shutdown()
}

func (d *Domain) root() *Domain { return d }

func (d *Domain) rollback() {}

// read runs fn in a transaction that is committed when fn succeeds.
func (d *Domain) read(ctx context.Context, fn func(domain.NodeTx) error) error {
	tx, err := d.node.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.log.Warn("rollback after failed read", zap.Error(rbErr))
		}
		return err
	}
	return tx.Commit()
}

func (d *Domain) objectData(ctx context.Context, id domain.ObjectID) (objectData, error) {
	e, err := d.resolver.EntityOf(id)
	if err != nil {
		return objectData{}, err
	}
	if id.IsTemporary() {
		return objectData{}, &domain.FaultFailureError{ID: id}
	}
	if snap, ok := d.snapshots.Get(id); ok {
		return dataFromSnapshot(e, id, snap), nil
	}
	v, err, _ := d.faults.Do(id.String(), func() (any, error) {
		var snap domain.Snapshot
		err := d.read(ctx, func(tx domain.NodeTx) error {
			rows, err := tx.Select(ctx, metadata.ByIDQuery(e, id))
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return &domain.FaultFailureError{ID: id}
			}
			secondary, err := d.secondary(ctx, tx, e, []domain.ObjectID{id})
			if err != nil {
				return err
			}
			snap = domain.NewSnapshot(metadata.MergeRows(e, rows[0], secondary[id]))
			return nil
		})
		if err != nil {
			return nil, err
		}
		return d.snapshots.Refresh(d, map[domain.ObjectID]domain.Snapshot{id: snap})[id], nil
	})
	if err != nil {
		return objectData{}, err
	}
	return dataFromSnapshot(e, id, v.(domain.Snapshot)), nil
}

// secondary fetches the secondary table rows of ids keyed by identity and
// table name.
func (d *Domain) secondary(ctx context.Context, tx domain.NodeTx, e *domain.Entity, ids []domain.ObjectID) (map[domain.ObjectID]map[string]domain.Row, error) {
	out := make(map[domain.ObjectID]map[string]domain.Row)
	if len(ids) == 0 {
		return out, nil
	}
	for i := range e.SecondaryTables {
		st := &e.SecondaryTables[i]
		rows, err := tx.Select(ctx, metadata.SecondaryQuery(e, st, ids))
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			id, ok := metadata.SecondaryRowID(e, st, row)
			if !ok {
				continue
			}
			if out[id] == nil {
				out[id] = make(map[string]domain.Row)
			}
			out[id][st.Name] = row
		}
	}
	return out, nil
}

// load runs a primary table select, completes the rows from secondary
// tables and refreshes the snapshot cache with the result.
func (d *Domain) load(ctx context.Context, e *domain.Entity, q domain.SelectQuery) ([]objectData, error) {
	var order []domain.ObjectID
	fetched := make(map[domain.ObjectID]domain.Snapshot)
	err := d.read(ctx, func(tx domain.NodeTx) error {
		rows, err := tx.Select(ctx, q)
		if err != nil {
			return err
		}
		primary := make(map[domain.ObjectID]domain.Row, len(rows))
		for _, row := range rows {
			id, ok := metadata.IDFromRow(e, row)
			if !ok {
				continue
			}
			if _, seen := primary[id]; !seen {
				order = append(order, id)
			}
			primary[id] = row
		}
		secondary, err := d.secondary(ctx, tx, e, order)
		if err != nil {
			return err
		}
		for _, id := range order {
			fetched[id] = domain.NewSnapshot(metadata.MergeRows(e, primary[id], secondary[id]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	current := d.snapshots.Refresh(d, fetched)
	out := make([]objectData, 0, len(order))
	for _, id := range order {
		out = append(out, dataFromSnapshot(e, id, current[id]))
	}
	return out, nil
}

func (d *Domain) selectObjects(ctx context.Context, q domain.ObjectQuery) ([]objectData, error) {
	e, sq, err := d.resolver.TranslateQuery(q)
	if err != nil {
		return nil, err
	}
	return d.load(ctx, e, sq)
}

func (d *Domain) related(ctx context.Context, source domain.ObjectID, rel *domain.Relationship) ([]objectData, error) {
	if source.IsTemporary() {
		return nil, nil
	}
	if !rel.Flattened() {
		target, err := d.resolver.Entity(rel.Target)
		if err != nil {
			return nil, err
		}
		return d.load(ctx, target, metadata.ToManyQuery(target, rel, source))
	}
	var out []objectData
	err := d.read(ctx, func(tx domain.NodeTx) error {
		rows, err := tx.Select(ctx, metadata.JoinRowsQuery(rel, source))
		if err != nil {
			return err
		}
		for _, row := range rows {
			if id, ok := metadata.JoinRowTarget(rel, row); ok {
				out = append(out, objectData{id: id, hollow: true})
			}
		}
		return nil
	})
	return out, err
}

func (d *Domain) iterate(ctx context.Context, q domain.ObjectQuery, fn func(DataRow) error) error {
	e, sq, err := d.resolver.TranslateQuery(q)
	if err != nil {
		return err
	}
	return d.read(ctx, func(tx domain.NodeTx) error {
		it, err := tx.Iterate(ctx, sq)
		if err != nil {
			return err
		}
		defer func() {
			if err := it.Close(); err != nil {
				d.log.Warn("closing row iterator", zap.Error(err))
			}
		}()
		for it.Next() {
			row := it.Row()
			id, ok := metadata.IDFromRow(e, row)
			if !ok {
				continue
			}
			if err := fn(DataRow{ID: id, Snapshot: domain.NewSnapshot(row)}); err != nil {
				return err
			}
		}
		return it.Err()
	})
}

// sync writes the changes of a root-level context to the database. Rules
// run first; an empty request does no I/O.
func (d *Domain) sync(ctx context.Context, origin *Context, _ bool) (flush.Result, error) {
	origin.preCommit(ctx)
	p := origin.plan(d.node.Name())
	if d.validate && d.rules.Len() > 0 && len(p.changes) > 0 {
		res, err := d.rules.Evaluate(ctx, ruleView{c: origin}, p.changes)
		if err != nil {
			return flush.Result{}, err
		}
		for _, v := range res.Violations {
			if v.Severity == domain.SeverityWarn {
				d.log.Warn("rule violation", zap.String("rule", v.Rule), zap.String("entity", v.Entity), zap.String("message", v.Message))
			}
		}
		if res.HasBlocking() {
			return flush.Result{}, domain.RuleViolationError{Result: res}
		}
	}
	if p.request.Empty() {
		return flush.Result{}, nil
	}
	res, err := d.flusher.Run(ctx, d.node, p.request)
	if err != nil {
		return flush.Result{}, err
	}

	changes := snapshot.Changes{Updated: res.Snapshots, Deleted: res.Deleted}
	for _, id := range p.indirect {
		changes.IndirectlyModified = append(changes.IndirectlyModified, res.Resolve(id))
	}
	d.snapshots.ApplyChanges(origin, changes)
	if origin.snapshots != d.snapshots {
		origin.snapshots.ApplyChanges(origin, changes)
	}
	d.publish(ctx, p.changeMap, res)
	d.events.Post(event.Event{Subject: event.GraphFlushed, Source: d, Origin: origin, Payload: res})
	return res, nil
}

// publish hands the change map of a commit to the commit listeners. Listener
// failures are logged; the commit already happened.
func (d *Domain) publish(ctx context.Context, m *commitlog.ChangeMap, res flush.Result) {
	if len(d.listeners) == 0 || m.Len() == 0 {
		return
	}
	m.Resolve(res.IDChanges)
	m.Committed = time.Now().UTC()
	if err := commitlog.Dispatch(ctx, m, d.listeners...); err != nil {
		d.log.Warn("commit listener failed", zap.String("change_map", m.ID), zap.Error(err))
	}
}

// ruleView exposes the objects of the committing context to rules.
type ruleView struct {
	c *Context
}

func (v ruleView) Objects(entity string) []domain.ObjectView {
	v.c.reg.mu.RLock()
	defer v.c.reg.mu.RUnlock()
	var out []domain.ObjectView
	for _, o := range v.c.reg.order {
		if o.entity.Name == entity && o.state != domain.Hollow {
			out = append(out, o.viewLocked())
		}
	}
	return out
}

func (v ruleView) Find(id domain.ObjectID) (domain.ObjectView, bool) {
	v.c.reg.mu.RLock()
	defer v.c.reg.mu.RUnlock()
	o, ok := v.c.reg.get(id)
	if !ok || o.state == domain.Hollow {
		return domain.ObjectView{}, false
	}
	return o.viewLocked(), true
}
