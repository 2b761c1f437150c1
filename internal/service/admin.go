package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zzenonn/chunkplace/internal/css"
	"github.com/zzenonn/chunkplace/internal/domain"
	zerrors "github.com/zzenonn/chunkplace/internal/errors"
)

// AdminCommand is one entry of the admin command table.
type AdminCommand struct {
	Name        string
	Args        []string
	Description string
	Handler     func(ctx context.Context, r *AdminRegistry, args []string) (string, error)
}

// adminCommands is the complete set of admin operations. Dispatch only
// ever looks names up here.
var adminCommands = []AdminCommand{
	{
		Name:        "version",
		Description: "Returns the schema version recorded in the store.",
		Handler: func(ctx context.Context, r *AdminRegistry, _ []string) (string, error) {
			return r.store.Read(ctx, css.VersionPath)
		},
	},
	{
		Name:        "dump",
		Description: "Returns every node of the store in dump format.",
		Handler: func(ctx context.Context, r *AdminRegistry, _ []string) (string, error) {
			var buf bytes.Buffer
			if err := css.Dump(ctx, r.store, &buf); err != nil {
				return "", err
			}
			return buf.String(), nil
		},
	},
	{
		Name:        "listDbs",
		Description: "Lists databases known to the store.",
		Handler: func(ctx context.Context, r *AdminRegistry, _ []string) (string, error) {
			return r.list(ctx, css.DatabasesPath)
		},
	},
	{
		Name:        "checkDbExists",
		Args:        []string{"db"},
		Description: "Checks if a database exists, returns 0 (no) or 1 (yes).",
		Handler: func(ctx context.Context, r *AdminRegistry, args []string) (string, error) {
			ok, err := r.store.Exists(ctx, css.DatabasePath(args[0]))
			if err != nil {
				return "", err
			}
			if ok {
				return "1", nil
			}
			return "0", nil
		},
	},
	{
		Name:        "listTables",
		Args:        []string{"db"},
		Description: "Lists tables of a database.",
		Handler: func(ctx context.Context, r *AdminRegistry, args []string) (string, error) {
			return r.list(ctx, css.TablesPath(args[0]))
		},
	},
	{
		Name:        "listChunks",
		Args:        []string{"db", "table"},
		Description: "Lists chunk ids with a placement record.",
		Handler: func(ctx context.Context, r *AdminRegistry, args []string) (string, error) {
			return r.list(ctx, css.ChunksPath(args[0], args[1]))
		},
	},
	{
		Name:        "chunkReplicas",
		Args:        []string{"db", "table", "chunk"},
		Description: "Shows the replica records of one chunk.",
		Handler: func(ctx context.Context, r *AdminRegistry, args []string) (string, error) {
			chunk, err := domain.ParseChunkID(args[2])
			if err != nil {
				return "", fmt.Errorf("%w: %v", zerrors.ErrInvalidChunk, err)
			}
			replicas := css.ReplicasPath(args[0], args[1], chunk)
			ids, err := r.store.Children(ctx, replicas)
			if err != nil {
				return "", err
			}
			var b strings.Builder
			for _, id := range ids {
				v, err := r.store.Read(ctx, css.Join(replicas, id))
				if err != nil {
					return "", err
				}
				fmt.Fprintf(&b, "%s\t%s\n", id, v)
			}
			return b.String(), nil
		},
	},
	{
		Name:        "chunkOwner",
		Args:        []string{"path"},
		Description: "Shows db, table, chunk and recorded worker for a chunk or replica path.",
		Handler: func(ctx context.Context, r *AdminRegistry, args []string) (string, error) {
			table, chunk, err := css.ParseChunkPath(args[0])
			if err != nil {
				return "", fmt.Errorf("%w: %v", zerrors.ErrInvalidChunk, err)
			}
			replicas := css.ReplicasPath(table.Database, table.Table, chunk)
			ids, err := r.store.Children(ctx, replicas)
			if err != nil && !errors.Is(err, zerrors.ErrNotFound) {
				return "", err
			}
			owner := "-"
			for _, id := range ids {
				v, err := r.store.Read(ctx, css.Join(replicas, id))
				if err != nil {
					return "", err
				}
				var rec domain.ReplicaRecord
				if json.Unmarshal([]byte(v), &rec) == nil && rec.NodeName != "" {
					owner = rec.NodeName
					break
				}
			}
			return fmt.Sprintf("%s\t%s\t%d\t%s", table.Database, table.Table, chunk, owner), nil
		},
	},
	{
		Name:        "help",
		Description: "A brief help message showing available commands.",
		Handler: func(_ context.Context, r *AdminRegistry, _ []string) (string, error) {
			return r.Help(), nil
		},
	},
}

// AdminRegistry dispatches admin operations against a store by name.
type AdminRegistry struct {
	store    css.MetadataStore
	commands map[string]AdminCommand
}

// NewAdminRegistry binds the admin command table to store.
func NewAdminRegistry(store css.MetadataStore) *AdminRegistry {
	r := &AdminRegistry{
		store:    store,
		commands: make(map[string]AdminCommand, len(adminCommands)),
	}
	for _, c := range adminCommands {
		r.commands[c.Name] = c
	}
	return r
}

// Commands returns the table sorted by name.
func (r *AdminRegistry) Commands() []AdminCommand {
	out := make([]AdminCommand, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch runs the command called name.
func (r *AdminRegistry) Dispatch(ctx context.Context, name string, args []string) (string, error) {
	c, ok := r.commands[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", zerrors.ErrUnknownCommand, name)
	}
	if len(args) != len(c.Args) {
		return "", fmt.Errorf("%w: %s takes %d argument(s) (%s), got %d",
			zerrors.ErrMissingRequiredFields, name, len(c.Args), strings.Join(c.Args, " "), len(args))
	}
	return c.Handler(ctx, r, args)
}

// Help formats the command table.
func (r *AdminRegistry) Help() string {
	var b strings.Builder
	b.WriteString("Available admin commands:\n")
	for _, c := range r.Commands() {
		usage := strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
		fmt.Fprintf(&b, "%-32s : %s\n", usage, c.Description)
	}
	return b.String()
}

func (r *AdminRegistry) list(ctx context.Context, path string) (string, error) {
	names, err := r.store.Children(ctx, path)
	if err != nil {
		if errors.Is(err, zerrors.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return strings.Join(names, "\n"), nil
}
