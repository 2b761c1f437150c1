package css

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zzenonn/chunkplace/internal/domain"
)

const (
	Root          = "/"
	MetaPath      = "/css_meta"
	VersionPath   = MetaPath + "/version"
	SnapshotsPath = MetaPath + "/snapshots"
	DatabasesPath = "/DBS"

	// SchemaVersion is the only layout version this code understands.
	SchemaVersion = "1"

	tablesDir   = "TABLES"
	chunksDir   = "CHUNKS"
	replicasDir = "REPLICAS"
	replicaExt  = ".json"
)

// Join appends segments to base.
func Join(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(base, "/"))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(s)
	}
	if b.Len() == 0 {
		return Root
	}
	return b.String()
}

// Parent returns the path one level up; the parent of Root is Root.
func Parent(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return Root
	}
	return path[:i]
}

// Base returns the last segment of path.
func Base(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}

// Validate checks that path is absolute with non-empty segments.
func Validate(path string) error {
	if path == Root {
		return nil
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path %q is not absolute", path)
	}
	for _, seg := range strings.Split(path[1:], "/") {
		if seg == "" {
			return fmt.Errorf("path %q has an empty segment", path)
		}
	}
	return nil
}

// Ancestors lists the proper ancestors of path from the top down, excluding Root.
func Ancestors(path string) []string {
	var out []string
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			out = append(out, path[:i])
		}
	}
	return out
}

func DatabasePath(db string) string {
	return Join(DatabasesPath, db)
}

func TablesPath(db string) string {
	return Join(DatabasePath(db), tablesDir)
}

func TablePath(db, table string) string {
	return Join(TablesPath(db), table)
}

func ChunksPath(db, table string) string {
	return Join(TablePath(db, table), chunksDir)
}

func ChunkPath(db, table string, chunk domain.ChunkID) string {
	return Join(ChunksPath(db, table), chunk.String())
}

func ReplicasPath(db, table string, chunk domain.ChunkID) string {
	return Join(ChunkPath(db, table, chunk), replicasDir)
}

func ReplicaPath(db, table string, chunk domain.ChunkID, replicaID string) string {
	return Join(ReplicasPath(db, table, chunk), replicaID)
}

// SnapshotPath is where a snapshot manifest is recorded.
func SnapshotPath(name string) string {
	return Join(SnapshotsPath, name)
}

// ReplicaID formats the n-th replica record name ("1.json").
func ReplicaID(n int) string {
	return strconv.Itoa(n) + replicaExt
}

// ReplicaSeq extracts n from a replica record name produced by ReplicaID.
func ReplicaSeq(id string) (int, bool) {
	num, ok := strings.CutSuffix(id, replicaExt)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ParseChunkPath recovers the table and chunk id from a chunk path or any
// path below it (replicas, replica records).
func ParseChunkPath(path string) (domain.TableKey, domain.ChunkID, error) {
	if err := Validate(path); err != nil {
		return domain.TableKey{}, 0, err
	}
	// "", DBS, db, TABLES, table, CHUNKS, chunk[, REPLICAS[, id]]
	segs := strings.Split(path, "/")
	if len(segs) < 7 || len(segs) > 9 ||
		segs[1] != Base(DatabasesPath) || segs[3] != tablesDir || segs[5] != chunksDir {
		return domain.TableKey{}, 0, fmt.Errorf("%q is not a chunk path", path)
	}
	if len(segs) >= 8 && segs[7] != replicasDir {
		return domain.TableKey{}, 0, fmt.Errorf("%q is not a chunk path", path)
	}
	chunk, err := domain.ParseChunkID(segs[6])
	if err != nil {
		return domain.TableKey{}, 0, fmt.Errorf("%q: %w", path, err)
	}
	return domain.TableKey{Database: segs[2], Table: segs[4]}, chunk, nil
}

// ValidName rejects names that cannot be used as a single path segment.
func ValidName(name string) error {
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if strings.ContainsAny(name, "/\t\n") {
		return fmt.Errorf("name %q contains a reserved character", name)
	}
	return nil
}
