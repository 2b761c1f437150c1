package main

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zzenonn/chunkplace/internal/css"
	"github.com/zzenonn/chunkplace/internal/domain"
	zerrors "github.com/zzenonn/chunkplace/internal/errors"
	"github.com/zzenonn/chunkplace/internal/metrics"
	"github.com/zzenonn/chunkplace/internal/placement"
)

const autoSourceTable = "auto"

var assignCmd = &cobra.Command{
	Use:   "assign [chunk-id...]",
	Short: "Print the worker for each chunk, optionally saving new assignments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		save, _ := cmd.Flags().GetBool("save")
		noStore, _ := cmd.Flags().GetBool("no-store")

		chunks := make([]domain.ChunkID, 0, len(args))
		for _, a := range splitArgs(args) {
			c, err := domain.ParseChunkID(a)
			if err != nil {
				return fmt.Errorf("%w: %v", zerrors.ErrInvalidChunk, err)
			}
			chunks = append(chunks, c)
		}

		reg := prometheus.NewRegistry()
		opts := []placement.Option{placement.WithMetrics(metrics.NewPrometheus(reg, ""))}

		// Set to nil once the store has been closed explicitly.
		var closeStore func() error
		defer func() {
			if closeStore == nil {
				return
			}
			if err := closeStore(); err != nil {
				log.WithError(err).Error("Failed to close metadata store")
			}
		}()

		if !noStore {
			store, closeFn, err := openStore(ctx, save)
			if err != nil {
				return err
			}
			closeStore = closeFn

			source := cfg.SourceTable
			if source == autoSourceTable {
				source, err = css.FindChunkedTable(ctx, store, cfg.Database)
				if err != nil {
					return fmt.Errorf("find chunked table in %s: %w", cfg.Database, err)
				}
				log.Infof("Using chunk map of table %s", source)
			}
			opts = append(opts, placement.WithStore(store), placement.WithSourceTable(source))
		}

		workers := make([]domain.WorkerID, len(cfg.Workers))
		for i, w := range cfg.Workers {
			workers[i] = domain.WorkerID(w)
		}
		resolver, err := placement.NewResolver(workers, domain.TableKey{Database: cfg.Database, Table: cfg.Table}, opts...)
		if err != nil {
			return err
		}

		for _, c := range chunks {
			if _, err := resolver.Worker(ctx, c); err != nil {
				return fmt.Errorf("chunk %d: %w", c, err)
			}
		}
		if save {
			if err := resolver.Save(ctx); err != nil {
				return err
			}
			// The memory backend only persists when closed.
			if closeStore != nil {
				closeFn := closeStore
				closeStore = nil
				if err := closeFn(); err != nil {
					return fmt.Errorf("persist assignments: %w", err)
				}
			}
		}

		table := resolver.Table()
		log.WithFields(log.Fields{
			"database": table.Database,
			"table":    table.Table,
			"chunks":   len(chunks),
			"pending":  resolver.Pending(),
		}).Debug("Resolved chunks")

		out := cmd.OutOrStdout()
		for _, a := range resolver.Assignments() {
			fmt.Fprintf(out, "%d\t%s\t%s\n", a.Chunk, a.Worker, a.Provenance)
		}
		if !save && resolver.Pending() > 0 {
			log.Infof("%d new assignment(s) not saved, rerun with --save to record them", resolver.Pending())
		}

		if cfg.MetricsTextfile != "" {
			if err := prometheus.WriteToTextfile(cfg.MetricsTextfile, reg); err != nil {
				return fmt.Errorf("write metrics: %w", err)
			}
		}
		return nil
	},
}

func init() {
	assignCmd.Flags().Bool("save", false, "record new round-robin assignments in the store")
	assignCmd.Flags().Bool("no-store", false, "use round-robin only, without reading the store")
	rootCmd.AddCommand(assignCmd)
}

// splitArgs accepts "1,2,3" as well as separate arguments.
func splitArgs(args []string) []string {
	var out []string
	for _, a := range args {
		for _, p := range strings.Split(a, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
