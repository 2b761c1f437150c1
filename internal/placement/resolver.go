package placement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/chunkplace/internal/css"
	"github.com/zzenonn/chunkplace/internal/domain"
	zerrors "github.com/zzenonn/chunkplace/internal/errors"
	"github.com/zzenonn/chunkplace/internal/metrics"
)

// Resolver decides which worker owns each chunk of one table.
//
// A Resolver is safe for concurrent use. A single mutex covers the cache,
// the first-query order and the fallback counter, and is held across store
// calls, so a chunk is decided exactly once and Save sees a consistent view.
type Resolver struct {
	mu sync.Mutex

	workers []domain.WorkerID
	table   domain.TableKey
	// source is the table whose chunk map is read and written.
	source  string
	store   css.MetadataStore
	metrics metrics.Collector
	logger  *log.Entry

	cache     map[domain.ChunkID]*domain.Assignment
	order     []domain.ChunkID
	fallbacks int

	schemaChecked bool
	schemaErr     error
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSourceTable reads and writes the chunk map of another table sharing
// the same partitioning.
func WithSourceTable(table string) Option {
	return func(r *Resolver) {
		if table != "" {
			r.source = table
		}
	}
}

// WithStore enables store lookups and Save.
func WithStore(store css.MetadataStore) Option {
	return func(r *Resolver) {
		r.store = store
	}
}

// WithMetrics reports lookups and saves to m instead of discarding them.
func WithMetrics(m metrics.Collector) Option {
	return func(r *Resolver) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithLogger replaces the default entry tagged with database and table.
func WithLogger(entry *log.Entry) Option {
	return func(r *Resolver) {
		if entry != nil {
			r.logger = entry
		}
	}
}

// NewResolver creates a resolver for table over the ordered worker list.
func NewResolver(workers []domain.WorkerID, table domain.TableKey, opts ...Option) (*Resolver, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("%w: worker list is empty", zerrors.ErrConfiguration)
	}
	for i, w := range workers {
		if w == "" {
			return nil, fmt.Errorf("%w: worker %d has an empty id", zerrors.ErrConfiguration, i)
		}
	}

	r := &Resolver{
		workers: append([]domain.WorkerID(nil), workers...),
		table:   table,
		source:  table.Table,
		metrics: metrics.NewNop(),
		cache:   make(map[domain.ChunkID]*domain.Assignment),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := css.ValidName(table.Database); err != nil {
		return nil, fmt.Errorf("%w: database: %v", zerrors.ErrConfiguration, err)
	}
	if err := css.ValidName(r.source); err != nil {
		return nil, fmt.Errorf("%w: table: %v", zerrors.ErrConfiguration, err)
	}
	if r.logger == nil {
		r.logger = log.WithFields(log.Fields{
			"database": table.Database,
			"table":    table.Table,
		})
	}
	if r.source != table.Table {
		r.logger = r.logger.WithField("source_table", r.source)
	}
	return r, nil
}

// Table returns the table this resolver governs.
func (r *Resolver) Table() domain.TableKey {
	return r.table
}

// SourceTable returns the table whose chunk map is consulted.
func (r *Resolver) SourceTable() string {
	return r.source
}

// Worker returns the worker for chunk. The first answer for a chunk is
// final for the lifetime of the resolver.
//
// A store record wins over the worker list. Without one, the n-th chunk
// first seen without a record goes to workers[n % len(workers)]. Store
// failures are returned and leave the chunk unresolved.
func (r *Resolver) Worker(ctx context.Context, chunk domain.ChunkID) (domain.WorkerID, error) {
	if chunk < 0 {
		return "", fmt.Errorf("%w: %d", zerrors.ErrInvalidChunk, chunk)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.cache[chunk]; ok {
		r.metrics.RecordLookup(metrics.OutcomeCached)
		return a.Worker, nil
	}

	if r.store != nil {
		worker, found, err := r.lookup(ctx, chunk)
		if err != nil {
			r.metrics.RecordLookup(metrics.OutcomeError)
			return "", err
		}
		if found {
			r.remember(chunk, worker, domain.FromStore)
			r.metrics.RecordLookup(metrics.OutcomeStore)
			return worker, nil
		}
	}

	worker := r.workers[r.fallbacks%len(r.workers)]
	r.fallbacks++
	r.remember(chunk, worker, domain.Fallback)
	r.metrics.RecordLookup(metrics.OutcomeFallback)
	r.metrics.SetPending(r.pendingLocked())

	r.logger.WithFields(log.Fields{"chunk": chunk, "worker": worker}).Debug("Assigned chunk round-robin")
	return worker, nil
}

// Save writes every unsaved round-robin assignment back to the store, in
// the order the chunks were first queried. It is a no-op without a store.
//
// An assignment is marked saved only after its write succeeds, so a failed
// Save can simply be retried.
func (r *Resolver) Save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	if err := r.checkSchema(ctx); err != nil {
		r.metrics.RecordSave(0, true)
		return err
	}

	written := 0
	for _, chunk := range r.order {
		a := r.cache[chunk]
		if a.Provenance != domain.Fallback || a.Persisted {
			continue
		}
		wrote, err := r.persist(ctx, a)
		if err != nil {
			r.metrics.RecordSave(written, true)
			r.metrics.SetPending(r.pendingLocked())
			return fmt.Errorf("save chunk %d: %w", chunk, err)
		}
		a.Persisted = true
		if wrote {
			written++
		}
	}

	r.metrics.RecordSave(written, false)
	r.metrics.SetPending(0)
	if written > 0 {
		r.logger.WithField("written", written).Info("Saved chunk assignments")
	}
	return nil
}

// Assignments returns every resolved chunk in first-query order.
func (r *Resolver) Assignments() []domain.Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Assignment, 0, len(r.order))
	for _, chunk := range r.order {
		out = append(out, *r.cache[chunk])
	}
	return out
}

// Pending returns the number of round-robin assignments not yet saved.
func (r *Resolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingLocked()
}

func (r *Resolver) pendingLocked() int {
	n := 0
	for _, a := range r.cache {
		if a.Provenance == domain.Fallback && !a.Persisted {
			n++
		}
	}
	return n
}

func (r *Resolver) remember(chunk domain.ChunkID, worker domain.WorkerID, p domain.Provenance) {
	r.cache[chunk] = &domain.Assignment{Chunk: chunk, Worker: worker, Provenance: p}
	r.order = append(r.order, chunk)
}

// lookup reads the recorded worker for chunk. found is false when the chunk
// has no usable record.
func (r *Resolver) lookup(ctx context.Context, chunk domain.ChunkID) (domain.WorkerID, bool, error) {
	if err := r.checkSchema(ctx); err != nil {
		return "", false, err
	}
	replicas := css.ReplicasPath(r.table.Database, r.source, chunk)
	ids, err := r.replicaIDs(ctx, replicas)
	if err != nil {
		return "", false, err
	}
	worker, found, skipped, err := r.firstValid(ctx, chunk, replicas, ids)
	if skipped > 0 {
		r.metrics.RecordMalformed(skipped)
	}
	return worker, found, err
}

// replicaIDs lists the replica records of a chunk in lexicographic order.
// A chunk without records yields an empty list.
func (r *Resolver) replicaIDs(ctx context.Context, replicas string) ([]string, error) {
	ids, err := r.store.Children(ctx, replicas)
	if err != nil {
		if errors.Is(err, zerrors.ErrNotFound) {
			return nil, nil
		}
		return nil, storeError("children", replicas, err)
	}
	ids = append([]string(nil), ids...)
	sort.Strings(ids)
	return ids, nil
}

// firstValid returns the worker named by the smallest replica id that
// parses. Unparsable records are logged, skipped and counted.
func (r *Resolver) firstValid(ctx context.Context, chunk domain.ChunkID, replicas string, ids []string) (domain.WorkerID, bool, int, error) {
	skipped := 0
	for _, id := range ids {
		path := css.Join(replicas, id)
		value, err := r.store.Read(ctx, path)
		if err != nil {
			if errors.Is(err, zerrors.ErrNotFound) {
				continue
			}
			return "", false, skipped, storeError("read", path, err)
		}
		rec, err := decodeReplica(path, value)
		if err != nil {
			skipped++
			r.logger.WithError(err).WithField("chunk", chunk).Warn("Ignoring replica record")
			continue
		}
		return domain.WorkerID(rec.NodeName), true, skipped, nil
	}
	return "", false, skipped, nil
}

// persist writes a replica record for a fallback assignment. If the chunk
// already has a valid record, nothing is written: the store is authoritative
// and a record from an earlier, partly failed Save must not be duplicated.
func (r *Resolver) persist(ctx context.Context, a *domain.Assignment) (bool, error) {
	replicas := css.ReplicasPath(r.table.Database, r.source, a.Chunk)
	ids, err := r.replicaIDs(ctx, replicas)
	if err != nil {
		return false, err
	}
	existing, found, _, err := r.firstValid(ctx, a.Chunk, replicas, ids)
	if err != nil {
		return false, err
	}
	if found {
		if existing != a.Worker {
			r.logger.WithFields(log.Fields{
				"chunk":    a.Chunk,
				"assigned": a.Worker,
				"recorded": existing,
			}).Warn("Chunk was recorded by another writer, keeping the stored record")
		}
		return false, nil
	}

	value, err := json.Marshal(domain.ReplicaRecord{NodeName: string(a.Worker)})
	if err != nil {
		return false, err
	}
	path := css.Join(replicas, nextReplicaID(ids))
	if err := r.store.Write(ctx, path, string(value)); err != nil {
		return false, storeError("write", path, err)
	}
	return true, nil
}

func (r *Resolver) checkSchema(ctx context.Context) error {
	if r.schemaErr != nil {
		return r.schemaErr
	}
	if r.schemaChecked {
		return nil
	}
	if err := css.CheckVersion(ctx, r.store); err != nil {
		if errors.Is(err, zerrors.ErrConfiguration) {
			r.schemaErr = err
			return err
		}
		return storeError("read", css.VersionPath, err)
	}
	r.schemaChecked = true
	return nil
}

// nextReplicaID picks a record name after every numbered record present.
func nextReplicaID(ids []string) string {
	next := 1
	for _, id := range ids {
		if n, ok := css.ReplicaSeq(id); ok && n >= next {
			next = n + 1
		}
	}
	return css.ReplicaID(next)
}

func decodeReplica(path, value string) (domain.ReplicaRecord, error) {
	var rec domain.ReplicaRecord
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return rec, zerrors.Malformed(path, err)
	}
	if rec.NodeName == "" {
		return rec, zerrors.Malformed(path, errors.New("nodeName is missing"))
	}
	return rec, nil
}

// storeError makes sure every failure reaching the caller is classified.
func storeError(op, path string, err error) error {
	if errors.Is(err, zerrors.ErrStoreUnavailable) || errors.Is(err, zerrors.ErrConfiguration) {
		return err
	}
	return zerrors.Unavailable(op, path, err)
}
