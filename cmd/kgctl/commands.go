package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dan-solli/kgstore/pkg/migrate"
	"github.com/dan-solli/kgstore/pkg/search"
)

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the configured storage answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			healthy := s.HealthCheck(cmd.Context())
			if err := a.printJSON(map[string]bool{"healthy": healthy}); err != nil {
				return err
			}
			if !healthy {
				return fmt.Errorf("storage health check failed")
			}
			return nil
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <project>",
		Short: "Print entity and relation counts for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := s.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(stats)
		},
	}
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		mode      string
		threshold float64
		page      int
		pageSize  int
		tags      []string
		tagMatch  string
	)

	cmd := &cobra.Command{
		Use:   "search <project> <query>...",
		Short: "Search a project's entities",
		Long: `Search a project's entities by one or more queries.

Fuzzy mode scores entities by similarity and uses database trigram search when
the backend supports it. Exact mode matches case-insensitive substrings. With
--page-size a single query is paginated.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := search.Options{
				Mode:     search.Mode(mode),
				Tags:     tags,
				TagMatch: search.TagMatch(tagMatch),
			}
			if opts.Mode != search.ModeFuzzy && opts.Mode != search.ModeExact {
				return fmt.Errorf("invalid mode %q (supported: fuzzy, exact)", mode)
			}
			if cmd.Flags().Changed("threshold") {
				opts.FuzzyThreshold = &threshold
			}

			s, cleanup, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			project, queries := args[0], args[1:]
			if pageSize > 0 {
				if len(queries) != 1 {
					return fmt.Errorf("paginated search takes exactly one query, got %d", len(queries))
				}
				res, err := s.SearchNodesPaginated(cmd.Context(), project, queries[0], opts,
					search.PaginationOptions{Page: page, PageSize: pageSize})
				if err != nil {
					return err
				}
				return a.printJSON(res)
			}

			graph, err := s.SearchNodes(cmd.Context(), project, queries, opts)
			if err != nil {
				return err
			}
			return a.printJSON(graph)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(search.ModeFuzzy), "search mode (fuzzy, exact)")
	cmd.Flags().Float64Var(&threshold, "threshold", search.DefaultFuzzyThreshold, "fuzzy similarity threshold in [0,1]")
	cmd.Flags().IntVar(&page, "page", 0, "zero-based page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "page size; 0 returns every match")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "only return entities with these tags")
	cmd.Flags().StringVar(&tagMatch, "tag-match", string(search.TagMatchAny), "tag match mode (any, all)")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	var (
		toType   string
		toConn   string
		validate bool
	)

	cmd := &cobra.Command{
		Use:   "migrate <project>",
		Short: "Copy a project from the configured storage to another backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, cleanup, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			target, err := a.openProvider(ctx, toType, toConn)
			if err != nil {
				return err
			}
			defer target.Close()

			svc := migrate.NewService(migrate.ServiceOptions{Logger: a.logger})
			res, err := svc.MigrateFromStorage(ctx, args[0], s.Provider(), target)
			if err != nil {
				return err
			}

			out := struct {
				*migrate.Result
				Valid *bool `json:"valid,omitempty"`
			}{Result: res}
			if validate {
				valid := svc.ValidateMigration(ctx, args[0], s.Provider(), target)
				out.Valid = &valid
				if err := a.printJSON(out); err != nil {
					return err
				}
				if !valid {
					return fmt.Errorf("migration of project %q did not validate", args[0])
				}
				return nil
			}
			return a.printJSON(out)
		},
	}

	cmd.Flags().StringVar(&toType, "to-type", "", "target storage type (sqlite, postgresql)")
	cmd.Flags().StringVar(&toConn, "to-conn", "", "target connection string")
	cmd.Flags().BoolVar(&validate, "validate", false, "compare entity and relation counts after migrating")
	cmd.MarkFlagRequired("to-type")
	cmd.MarkFlagRequired("to-conn")
	return cmd
}

func newBackupCmd(a *app) *cobra.Command {
	var toType, toConn string

	cmd := &cobra.Command{
		Use:   "backup <project>",
		Short: "Save a timestamped copy of a project to a backup storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, cleanup, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			target, err := a.openProvider(ctx, toType, toConn)
			if err != nil {
				return err
			}
			defer target.Close()

			svc := migrate.NewService(migrate.ServiceOptions{Logger: a.logger})
			backupProject, err := svc.BackupData(ctx, args[0], s.Provider(), target)
			if err != nil {
				return err
			}
			return a.printJSON(map[string]string{"project": args[0], "backupProject": backupProject})
		},
	}

	cmd.Flags().StringVar(&toType, "to-type", "", "backup storage type (sqlite, postgresql)")
	cmd.Flags().StringVar(&toConn, "to-conn", "", "backup connection string")
	cmd.MarkFlagRequired("to-type")
	cmd.MarkFlagRequired("to-conn")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	var fromType, fromConn string

	cmd := &cobra.Command{
		Use:   "restore <backup-project> <target-project>",
		Short: "Replace a project in the configured storage with a backup",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, cleanup, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			source, err := a.openProvider(ctx, fromType, fromConn)
			if err != nil {
				return err
			}
			defer source.Close()

			svc := migrate.NewService(migrate.ServiceOptions{Logger: a.logger})
			res, err := svc.RestoreData(ctx, args[0], args[1], source, s.Provider())
			if err != nil {
				return err
			}
			return a.printJSON(res)
		},
	}

	cmd.Flags().StringVar(&fromType, "from-type", "", "backup storage type (sqlite, postgresql)")
	cmd.Flags().StringVar(&fromConn, "from-conn", "", "backup connection string")
	cmd.MarkFlagRequired("from-type")
	cmd.MarkFlagRequired("from-conn")
	return cmd
}
