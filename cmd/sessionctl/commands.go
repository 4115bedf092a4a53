package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pscheid92/racecontrol/internal/domain"
)

const commandTimeout = 2 * time.Minute

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalog records, most recently started first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			return withEnv(ctx, func(ctx context.Context, e env) error {
				records, err := e.catalog.List(ctx)
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), records)
			})
		},
	}
}

func newOrphansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orphans",
		Short: "Report session databases without a catalog record, and records without a database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			return withEnv(ctx, func(ctx context.Context, e env) error {
				databases, err := e.provisioner.ListDatabases(ctx)
				if err != nil {
					return err
				}
				records, err := e.catalog.List(ctx)
				if err != nil {
					return err
				}
				return printReport(cmd.OutOrStdout(), reconcile(databases, records))
			})
		},
	}
}

func newDropCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "drop <session>",
		Short: "Drop a session database and its catalog record",
		Long: "Drop a session database and its catalog record. Connected clients are not\n" +
			"notified; run this while the server is stopped or the session is inactive.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			dbName, err := domain.DatabaseName(name)
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("refusing to drop %s without --yes", dbName)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			return withEnv(ctx, func(ctx context.Context, e env) error {
				return dropSession(ctx, e.provisioner, e.catalog, name, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the drop")
	return cmd
}

type dropper interface {
	Drop(ctx context.Context, session string) error
}

type recordDeleter interface {
	Delete(ctx context.Context, name string) error
}

// dropSession removes the database and then the record. A missing database
// still clears the record so dangling entries can be cleaned up too.
func dropSession(ctx context.Context, p dropper, c recordDeleter, name string, out io.Writer) error {
	err := p.Drop(ctx, name)
	switch {
	case err == nil:
		fmt.Fprintf(out, "dropped database for %q\n", name)
	case errors.Is(err, domain.ErrSessionNotFound):
		fmt.Fprintf(out, "no database for %q, clearing record only\n", name)
	default:
		return err
	}

	if err := c.Delete(ctx, name); err != nil {
		return fmt.Errorf("database dropped but record not deleted: %w", err)
	}
	return nil
}

// report compares session databases on the server with catalog records.
type report struct {
	// OrphanDatabases exist on the server without a catalog record, usually
	// left behind by a start whose catalog update failed.
	OrphanDatabases []string
	// DanglingRecords are catalog entries whose database is gone.
	DanglingRecords []domain.SessionRecord
}

func reconcile(databases []string, records []domain.SessionRecord) report {
	known := make(map[string]struct{}, len(records))
	var r report

	for _, rec := range records {
		dbName, err := domain.DatabaseName(rec.Name)
		if err != nil {
			continue
		}
		known[dbName] = struct{}{}
		if !slices.Contains(databases, dbName) {
			r.DanglingRecords = append(r.DanglingRecords, rec)
		}
	}

	for _, db := range databases {
		if _, ok := known[db]; !ok {
			r.OrphanDatabases = append(r.OrphanDatabases, db)
		}
	}
	return r
}

func printRecords(out io.Writer, records []domain.SessionRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "no sessions")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tSTARTED AT\tDATABASE")
	for _, r := range records {
		dbName, _ := domain.DatabaseName(r.Name)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.Status, r.StartedAt.UTC().Format(time.RFC3339), dbName)
	}
	return tw.Flush()
}

func printReport(out io.Writer, r report) error {
	if len(r.OrphanDatabases) == 0 && len(r.DanglingRecords) == 0 {
		_, err := fmt.Fprintln(out, "catalog and databases agree")
		return err
	}

	for _, db := range r.OrphanDatabases {
		fmt.Fprintf(out, "orphan database: %s\n", db)
	}
	for _, rec := range r.DanglingRecords {
		fmt.Fprintf(out, "dangling record: %s (%s)\n", rec.Name, rec.Status)
	}
	return nil
}
