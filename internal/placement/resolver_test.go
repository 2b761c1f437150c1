package placement

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzenonn/chunkplace/internal/css"
	"github.com/zzenonn/chunkplace/internal/domain"
	zerrors "github.com/zzenonn/chunkplace/internal/errors"
	"github.com/zzenonn/chunkplace/internal/metrics"
)

const (
	testDB    = "TESTDB"
	testTable = "TABLE"
)

var twoWorkers = []domain.WorkerID{"worker1", "worker2"}

// newStore builds a memory store from dump lines, with the schema marker.
func newStore(t *testing.T, lines ...string) *css.MemoryStore {
	t.Helper()
	store := css.NewMemoryStore()
	data := "/css_meta/version\t" + css.SchemaVersion + "\n" + strings.Join(lines, "\n")
	_, err := css.Load(context.Background(), store, strings.NewReader(data))
	require.NoError(t, err)
	return store
}

func replicaLine(table string, chunk int, id, value string) string {
	return fmt.Sprintf("%s\t%s", css.ReplicaPath(testDB, table, domain.ChunkID(chunk), id), value)
}

func newResolver(t *testing.T, workers []domain.WorkerID, opts ...Option) *Resolver {
	t.Helper()
	r, err := NewResolver(workers, domain.TableKey{Database: testDB, Table: testTable}, opts...)
	require.NoError(t, err)
	return r
}

func mustWorker(t *testing.T, r *Resolver, chunk domain.ChunkID) domain.WorkerID {
	t.Helper()
	w, err := r.Worker(context.Background(), chunk)
	require.NoError(t, err)
	return w
}

// faultyStore injects failures into a MemoryStore.
type faultyStore struct {
	*css.MemoryStore
	mu           sync.Mutex
	readErr      error
	childrenErr  error
	writeErr     error
	writes       []string
	childrenSeen int
}

func (f *faultyStore) Read(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	err := f.readErr
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return f.MemoryStore.Read(ctx, path)
}

func (f *faultyStore) Children(ctx context.Context, path string) ([]string, error) {
	f.mu.Lock()
	f.childrenSeen++
	err := f.childrenErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.MemoryStore.Children(ctx, path)
}

func (f *faultyStore) Write(ctx context.Context, path, value string) error {
	f.mu.Lock()
	err := f.writeErr
	if err == nil {
		f.writes = append(f.writes, path)
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryStore.Write(ctx, path, value)
}

func TestNewResolver_Validation(t *testing.T) {
	tests := []struct {
		name    string
		workers []domain.WorkerID
		table   domain.TableKey
		opts    []Option
	}{
		{name: "no workers", workers: nil, table: domain.TableKey{Database: testDB, Table: testTable}},
		{name: "empty worker id", workers: []domain.WorkerID{"w1", ""}, table: domain.TableKey{Database: testDB, Table: testTable}},
		{name: "empty database", workers: twoWorkers, table: domain.TableKey{Table: testTable}},
		{name: "table with slash", workers: twoWorkers, table: domain.TableKey{Database: testDB, Table: "a/b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.workers, tt.table, tt.opts...)
			require.ErrorIs(t, err, zerrors.ErrConfiguration)
		})
	}
}

func TestResolver_RoundRobinWithoutStore(t *testing.T) {
	r := newResolver(t, twoWorkers)

	for i := 0; i < 10; i++ {
		assert.Equal(t, twoWorkers[i%2], mustWorker(t, r, domain.ChunkID(i)))
	}
}

func TestResolver_FallbackFollowsFirstQueryOrder(t *testing.T) {
	r := newResolver(t, twoWorkers)
	chunks := []domain.ChunkID{907, 3, 55, 1, 1000, 42, 0, 8, 77, 12}

	for i, c := range chunks {
		assert.Equal(t, twoWorkers[i%2], mustWorker(t, r, c), "chunk %d", c)
	}
}

func TestResolver_Repeatable(t *testing.T) {
	r := newResolver(t, twoWorkers)

	first := make([]domain.WorkerID, 10)
	for i := range first {
		first[i] = mustWorker(t, r, domain.ChunkID(i))
	}
	// Interleave repeated lookups with new chunks: the counter must only
	// move for unseen chunks.
	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r, 100))
	for i := range first {
		assert.Equal(t, first[i], mustWorker(t, r, domain.ChunkID(i)))
	}
	assert.Equal(t, domain.WorkerID("worker2"), mustWorker(t, r, 101))
}

func TestResolver_SingleWorker(t *testing.T) {
	r := newResolver(t, []domain.WorkerID{"only"}, WithStore(newStore(t)))

	for _, c := range []domain.ChunkID{5, 1, 9, 2, 7} {
		assert.Equal(t, domain.WorkerID("only"), mustWorker(t, r, c))
	}
}

func TestResolver_NegativeChunk(t *testing.T) {
	r := newResolver(t, twoWorkers)

	_, err := r.Worker(context.Background(), -1)
	require.ErrorIs(t, err, zerrors.ErrInvalidChunk)
	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r, 0))
}

func TestResolver_ReadsStore(t *testing.T) {
	store := newStore(t,
		replicaLine(testTable, 333, "1.json", `{"nodeName": "worker333"}`),
		replicaLine(testTable, 765, "1.json", `{"nodeName": "worker765"}`),
	)
	r := newResolver(t, twoWorkers, WithStore(store))

	assert.Equal(t, domain.WorkerID("worker333"), mustWorker(t, r, 333))
	assert.Equal(t, domain.WorkerID("worker765"), mustWorker(t, r, 765))
	// Store hits do not consume the round-robin counter.
	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r, 1))
	assert.Equal(t, domain.WorkerID("worker2"), mustWorker(t, r, 2))

	got := r.Assignments()
	require.Len(t, got, 4)
	assert.Equal(t, domain.FromStore, got[0].Provenance)
	assert.Equal(t, domain.FromStore, got[1].Provenance)
	assert.Equal(t, domain.Fallback, got[2].Provenance)
	assert.Equal(t, domain.Fallback, got[3].Provenance)
}

func TestResolver_StoreWinsOverWorkerList(t *testing.T) {
	store := newStore(t, replicaLine(testTable, 7, "1.json", `{"nodeName": "elsewhere"}`))

	for _, workers := range [][]domain.WorkerID{
		{"worker1", "worker2"},
		{"worker2", "worker1"},
		{"elsewhere"},
		{"a", "b", "c"},
	} {
		r := newResolver(t, workers, WithStore(store))
		assert.Equal(t, domain.WorkerID("elsewhere"), mustWorker(t, r, 7))
	}
}

func TestResolver_SharedChunkMap(t *testing.T) {
	store := newStore(t,
		replicaLine("TBL123", 333, "1.json", `{"nodeName": "worker333"}`),
		replicaLine("TBL123", 765, "1.json", `{"nodeName": "worker765"}`),
		replicaLine(testTable, 333, "1.json", `{"nodeName": "wrong"}`),
	)
	r := newResolver(t, twoWorkers, WithStore(store), WithSourceTable("TBL123"))

	assert.Equal(t, domain.TableKey{Database: testDB, Table: testTable}, r.Table())
	assert.Equal(t, "TBL123", r.SourceTable())
	assert.Equal(t, domain.WorkerID("worker333"), mustWorker(t, r, 333))
	assert.Equal(t, domain.WorkerID("worker765"), mustWorker(t, r, 765))
	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r, 1))
	assert.Equal(t, domain.WorkerID("worker2"), mustWorker(t, r, 2))
}

func TestResolver_ReplicaTieBreak(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  domain.WorkerID
	}{
		{
			name: "smallest id wins",
			lines: []string{
				replicaLine(testTable, 9, "2.json", `{"nodeName": "second"}`),
				replicaLine(testTable, 9, "1.json", `{"nodeName": "first"}`),
			},
			want: "first",
		},
		{
			name: "lexicographic, not numeric",
			lines: []string{
				replicaLine(testTable, 9, "2.json", `{"nodeName": "two"}`),
				replicaLine(testTable, 9, "10.json", `{"nodeName": "ten"}`),
			},
			want: "ten",
		},
		{
			name: "malformed smallest is skipped",
			lines: []string{
				replicaLine(testTable, 9, "1.json", `{not json`),
				replicaLine(testTable, 9, "2.json", `{"nodeName": "second"}`),
			},
			want: "second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(t, twoWorkers, WithStore(newStore(t, tt.lines...)))
			assert.Equal(t, tt.want, mustWorker(t, r, 9))
		})
	}
}

func TestResolver_MalformedFallsBack(t *testing.T) {
	store := newStore(t,
		replicaLine(testTable, 4, "1.json", `{"nodeName": 17}`),
		replicaLine(testTable, 5, "1.json", `{"other": "x"}`),
		fmt.Sprintf("%s\t\\N", css.ReplicaPath(testDB, testTable, 6, "1.json")),
	)
	r := newResolver(t, twoWorkers, WithStore(store))

	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r, 4))
	assert.Equal(t, domain.WorkerID("worker2"), mustWorker(t, r, 5))
	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r, 6))
	for _, a := range r.Assignments() {
		assert.Equal(t, domain.Fallback, a.Provenance)
	}
}

func TestResolver_ChunkWithoutReplicas(t *testing.T) {
	// The chunk node exists but has no REPLICAS subtree.
	store := newStore(t, fmt.Sprintf("%s\t\\N", css.ChunkPath(testDB, testTable, 3)))
	r := newResolver(t, twoWorkers, WithStore(store))

	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r, 3))
}

func TestResolver_StoreUnavailable(t *testing.T) {
	outage := errors.New("connection refused")
	store := &faultyStore{MemoryStore: newStore(t), childrenErr: outage}
	r := newResolver(t, twoWorkers, WithStore(store))

	_, err := r.Worker(context.Background(), 1)
	require.ErrorIs(t, err, zerrors.ErrStoreUnavailable)
	require.ErrorIs(t, err, outage)
	assert.Empty(t, r.Assignments())

	// Recovery: the failed call did not advance the counter.
	store.childrenErr = nil
	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r, 1))
	assert.Equal(t, domain.WorkerID("worker2"), mustWorker(t, r, 2))
}

func TestResolver_UnavailableDuringSchemaCheckIsRetried(t *testing.T) {
	store := &faultyStore{MemoryStore: newStore(t), readErr: zerrors.Unavailable("get", css.VersionPath, context.DeadlineExceeded)}
	r := newResolver(t, twoWorkers, WithStore(store))

	_, err := r.Worker(context.Background(), 1)
	require.ErrorIs(t, err, zerrors.ErrStoreUnavailable)
	require.NotErrorIs(t, err, zerrors.ErrConfiguration)

	store.readErr = nil
	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r, 1))
}

func TestResolver_SchemaVersion(t *testing.T) {
	tests := []struct {
		name string
		dump string
	}{
		{name: "unknown version", dump: "/css_meta/version\t999\n"},
		{name: "missing marker", dump: "/DBS\t\\N\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := css.NewMemoryStore()
			_, err := css.Load(context.Background(), store, strings.NewReader(tt.dump))
			require.NoError(t, err)
			r := newResolver(t, twoWorkers, WithStore(store))

			_, err = r.Worker(context.Background(), 1)
			require.ErrorIs(t, err, zerrors.ErrConfiguration)

			// Sticky: fixing the store does not revive this resolver.
			require.NoError(t, store.Write(context.Background(), css.VersionPath, css.SchemaVersion))
			_, err = r.Worker(context.Background(), 1)
			require.ErrorIs(t, err, zerrors.ErrConfiguration)
			require.ErrorIs(t, r.Save(context.Background()), zerrors.ErrConfiguration)
		})
	}
}

func TestResolver_SaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, fmt.Sprintf("%s\t\\N", css.ChunksPath(testDB, testTable)))

	r := newResolver(t, twoWorkers, WithStore(store))
	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r, 1))
	assert.Equal(t, domain.WorkerID("worker2"), mustWorker(t, r, 2))
	assert.Equal(t, 2, r.Pending())
	require.NoError(t, r.Save(ctx))
	assert.Zero(t, r.Pending())

	var dump bytes.Buffer
	require.NoError(t, css.Dump(ctx, store, &dump))
	reloaded := css.NewMemoryStore()
	_, err := css.Load(ctx, reloaded, &dump)
	require.NoError(t, err)

	r2 := newResolver(t, []domain.WorkerID{"worker1000", "worker2000"}, WithStore(reloaded))
	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r2, 1))
	assert.Equal(t, domain.WorkerID("worker2"), mustWorker(t, r2, 2))
	assert.Equal(t, domain.WorkerID("worker1000"), mustWorker(t, r2, 3))
	assert.Equal(t, domain.WorkerID("worker2000"), mustWorker(t, r2, 4))
}

func TestResolver_SaveWritesExpectedRecord(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	r := newResolver(t, twoWorkers, WithStore(store))
	mustWorker(t, r, 12)
	require.NoError(t, r.Save(ctx))

	v, err := store.Read(ctx, css.ReplicaPath(testDB, testTable, 12, "1.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodeName": "worker1"}`, v)
}

func TestResolver_SaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{MemoryStore: newStore(t)}
	r := newResolver(t, twoWorkers, WithStore(store))
	for _, c := range []domain.ChunkID{1, 2, 3} {
		mustWorker(t, r, c)
	}

	require.NoError(t, r.Save(ctx))
	var once bytes.Buffer
	require.NoError(t, css.Dump(ctx, store, &once))
	writes := len(store.writes)

	require.NoError(t, r.Save(ctx))
	var twice bytes.Buffer
	require.NoError(t, css.Dump(ctx, store, &twice))

	assert.Equal(t, once.String(), twice.String())
	assert.Equal(t, writes, len(store.writes))
}

func TestResolver_SaveSkipsStoreAssignments(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{MemoryStore: newStore(t, replicaLine(testTable, 333, "1.json", `{"nodeName": "worker333"}`))}
	r := newResolver(t, twoWorkers, WithStore(store))
	mustWorker(t, r, 333)

	require.NoError(t, r.Save(ctx))
	assert.Empty(t, store.writes)
}

func TestResolver_SaveAfterMalformedUsesNextReplicaID(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, replicaLine(testTable, 8, "1.json", `garbage`))
	r := newResolver(t, twoWorkers, WithStore(store))
	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r, 8))
	require.NoError(t, r.Save(ctx))

	ids, err := store.Children(ctx, css.ReplicasPath(testDB, testTable, 8))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.json", "2.json"}, ids)

	r2 := newResolver(t, []domain.WorkerID{"other"}, WithStore(store))
	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r2, 8))
}

func TestResolver_SaveFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{MemoryStore: newStore(t)}
	r := newResolver(t, twoWorkers, WithStore(store))
	mustWorker(t, r, 1)
	mustWorker(t, r, 2)

	store.writeErr = errors.New("throttled")
	err := r.Save(ctx)
	require.ErrorIs(t, err, zerrors.ErrStoreUnavailable)
	assert.Equal(t, 2, r.Pending())

	store.writeErr = nil
	require.NoError(t, r.Save(ctx))
	assert.Zero(t, r.Pending())
	assert.Len(t, store.writes, 2)
}

func TestResolver_SaveKeepsRecordFromAnotherWriter(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	r := newResolver(t, twoWorkers, WithStore(store))
	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r, 5))

	// Another resolver records the chunk first.
	require.NoError(t, store.Write(ctx, css.ReplicaPath(testDB, testTable, 5, "1.json"), `{"nodeName": "winner"}`))
	require.NoError(t, r.Save(ctx))

	ids, err := store.Children(ctx, css.ReplicasPath(testDB, testTable, 5))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.json"}, ids)
	assert.Zero(t, r.Pending())
	// This instance keeps its own answer.
	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, r, 5))
}

func TestResolver_SaveWithoutStore(t *testing.T) {
	r := newResolver(t, twoWorkers)
	mustWorker(t, r, 1)

	require.NoError(t, r.Save(context.Background()))
	assert.Equal(t, 1, r.Pending())
}

func TestResolver_SaveToSourceTable(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	r := newResolver(t, twoWorkers, WithStore(store), WithSourceTable("Shared"))
	mustWorker(t, r, 1)
	require.NoError(t, r.Save(ctx))

	ok, err := store.Exists(ctx, css.ReplicaPath(testDB, "Shared", 1, "1.json"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Exists(ctx, css.ChunksPath(testDB, testTable))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolver_ConcurrentFirstQueries(t *testing.T) {
	store := newStore(t)
	r := newResolver(t, twoWorkers, WithStore(store))

	const goroutines = 16
	results := make([]domain.WorkerID, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := r.Worker(context.Background(), 42)
			assert.NoError(t, err)
			results[i] = w
		}(i)
	}
	wg.Wait()

	for _, w := range results {
		assert.Equal(t, domain.WorkerID("worker1"), w)
	}
	assert.Len(t, r.Assignments(), 1)
	// Exactly one fallback decision was made.
	assert.Equal(t, domain.WorkerID("worker2"), mustWorker(t, r, 43))
}

func TestResolver_ConcurrentWorkersAndSave(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	r := newResolver(t, []domain.WorkerID{"a", "b", "c"}, WithStore(store))

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for c := 0; c < 50; c++ {
				_, err := r.Worker(ctx, domain.ChunkID(g*50+c))
				assert.NoError(t, err)
				if c%10 == 0 {
					assert.NoError(t, r.Save(ctx))
				}
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, r.Save(ctx))

	// Every chunk is recorded exactly once, with the worker this instance chose.
	for _, a := range r.Assignments() {
		ids, err := store.Children(ctx, css.ReplicasPath(testDB, testTable, a.Chunk))
		require.NoError(t, err)
		require.Equal(t, []string{"1.json"}, ids, "chunk %d", a.Chunk)
		v, err := store.Read(ctx, css.ReplicaPath(testDB, testTable, a.Chunk, "1.json"))
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprintf(`{"nodeName": %q}`, a.Worker), v)
	}
	assert.Len(t, r.Assignments(), 200)
}

func TestResolver_IndependentInstances(t *testing.T) {
	a := newResolver(t, twoWorkers)
	b := newResolver(t, twoWorkers)

	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, a, 1))
	assert.Equal(t, domain.WorkerID("worker2"), mustWorker(t, a, 2))
	assert.Equal(t, domain.WorkerID("worker1"), mustWorker(t, b, 2))
}

// recordingCollector keeps every event reported by a resolver.
type recordingCollector struct {
	lookups   map[string]int
	malformed int
}

func (c *recordingCollector) RecordLookup(outcome string) { c.lookups[outcome]++ }

func (c *recordingCollector) RecordMalformed(n int) { c.malformed += n }

func (c *recordingCollector) RecordSave(int, bool) {}

func (c *recordingCollector) SetPending(int) {}

func TestResolver_LookupMetrics(t *testing.T) {
	store := newStore(t,
		replicaLine(testTable, 1, "1.json", `{not json`),
		replicaLine(testTable, 1, "2.json", `{"nodeName": ""}`),
		replicaLine(testTable, 2, "1.json", `{"nodeName": "worker9"}`),
	)
	rec := &recordingCollector{lookups: make(map[string]int)}
	r := newResolver(t, twoWorkers, WithStore(store), WithMetrics(rec))

	mustWorker(t, r, 1)
	mustWorker(t, r, 2)
	mustWorker(t, r, 3)
	mustWorker(t, r, 1)
	require.NoError(t, r.Save(context.Background()))

	// One lookup outcome per Worker call; malformed records are counted apart.
	assert.Equal(t, map[string]int{
		metrics.OutcomeFallback: 2,
		metrics.OutcomeStore:    1,
		metrics.OutcomeCached:   1,
	}, rec.lookups)
	assert.Equal(t, 2, rec.malformed)
}
