// Package migrate copies knowledge graphs between storage providers and
// manages project backups.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dan-solli/kgstore/pkg/store"
)

// ErrEmptyBackup is returned when restoring from a backup project that holds no data.
var ErrEmptyBackup = errors.New("backup project is empty")

// backupTimestampLayout renders UTC timestamps that are safe inside project names.
const backupTimestampLayout = "2006-01-02T15-04-05.000Z"

// ServiceOptions configures a Service. Every field is optional.
type ServiceOptions struct {
	Logger *slog.Logger

	// Clock stamps backup names (default: time.Now).
	Clock func() time.Time
}

// Service moves project graphs between providers. It holds no connections of its own.
type Service struct {
	logger *slog.Logger
	clock  func() time.Time
}

// Result describes one copied graph.
type Result struct {
	SourceProject string `json:"sourceProject"`
	TargetProject string `json:"targetProject"`
	Entities      int    `json:"entities"`
	Relations     int    `json:"relations"`

	// Skipped is true when the source held nothing and the target was left untouched.
	Skipped bool `json:"skipped"`
}

// NewService creates a migration service.
func NewService(opts ServiceOptions) *Service {
	s := &Service{logger: opts.Logger, clock: opts.Clock}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// MigrateFromStorage copies project from source to target. A non-empty graph
// fully replaces the target's data for that project; an empty one is skipped.
func (s *Service) MigrateFromStorage(ctx context.Context, project string, source, target store.Provider) (*Result, error) {
	graph, err := source.LoadGraph(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("migrate project %q: %w", project, err)
	}

	res := &Result{
		SourceProject: project,
		TargetProject: project,
		Entities:      len(graph.Entities),
		Relations:     len(graph.Relations),
	}
	if graph.IsEmpty() {
		res.Skipped = true
		s.logger.Info("nothing to migrate", "project", project, "source", source.Type())
		return res, nil
	}

	if err := target.SaveGraph(ctx, graph, project); err != nil {
		return nil, fmt.Errorf("migrate project %q: %w", project, err)
	}

	s.logger.Info("migrated project",
		"project", project,
		"source", source.Type(),
		"target", target.Type(),
		"entities", res.Entities,
		"relations", res.Relations)
	return res, nil
}

// ValidateMigration reloads both sides and compares entity and relation counts.
// Mismatches and load failures are logged and reported as false.
func (s *Service) ValidateMigration(ctx context.Context, project string, source, target store.Provider) bool {
	var src, dst *store.KnowledgeGraph

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		src, err = source.LoadGraph(gctx, project)
		if err != nil {
			return fmt.Errorf("load source: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		dst, err = target.LoadGraph(gctx, project)
		if err != nil {
			return fmt.Errorf("load target: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Warn("migration validation failed", "project", project, "error", err)
		return false
	}

	if len(src.Entities) != len(dst.Entities) || len(src.Relations) != len(dst.Relations) {
		s.logger.Warn("migration validation mismatch",
			"project", project,
			"source_entities", len(src.Entities),
			"target_entities", len(dst.Entities),
			"source_relations", len(src.Relations),
			"target_relations", len(dst.Relations))
		return false
	}

	s.logger.Info("migration validated", "project", project,
		"entities", len(src.Entities), "relations", len(src.Relations))
	return true
}

// BackupData copies project into backupTarget under BackupProjectName and
// returns that name. The source project is not modified.
func (s *Service) BackupData(ctx context.Context, project string, source, backupTarget store.Provider) (string, error) {
	graph, err := source.LoadGraph(ctx, project)
	if err != nil {
		return "", fmt.Errorf("backup project %q: %w", project, err)
	}

	backupProject := BackupProjectName(project, s.clock())
	if graph.IsEmpty() {
		s.logger.Warn("backing up empty project", "project", project, "backup", backupProject)
	}
	if err := backupTarget.SaveGraph(ctx, graph, backupProject); err != nil {
		return "", fmt.Errorf("backup project %q: %w", project, err)
	}

	s.logger.Info("backed up project",
		"project", project,
		"backup", backupProject,
		"entities", len(graph.Entities),
		"relations", len(graph.Relations))
	return backupProject, nil
}

// RestoreData copies backupProject from backupSource into targetProject on target,
// replacing whatever targetProject held.
func (s *Service) RestoreData(ctx context.Context, backupProject, targetProject string, backupSource, target store.Provider) (*Result, error) {
	graph, err := backupSource.LoadGraph(ctx, backupProject)
	if err != nil {
		return nil, fmt.Errorf("restore %q into %q: %w", backupProject, targetProject, err)
	}
	if graph.IsEmpty() {
		return nil, fmt.Errorf("restore %q into %q: %w", backupProject, targetProject, ErrEmptyBackup)
	}

	if err := target.SaveGraph(ctx, graph, targetProject); err != nil {
		return nil, fmt.Errorf("restore %q into %q: %w", backupProject, targetProject, err)
	}

	s.logger.Info("restored project",
		"backup", backupProject,
		"project", targetProject,
		"entities", len(graph.Entities),
		"relations", len(graph.Relations))
	return &Result{
		SourceProject: backupProject,
		TargetProject: targetProject,
		Entities:      len(graph.Entities),
		Relations:     len(graph.Relations),
	}, nil
}

// GetProjectStats counts a project's entities and relations. SizeBytes is filled
// only when the provider implements store.SizeEstimator.
func (s *Service) GetProjectStats(ctx context.Context, project string, provider store.Provider) (*store.ProjectStats, error) {
	graph, err := provider.LoadGraph(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("stats for project %q: %w", project, err)
	}

	stats := &store.ProjectStats{
		Project:   project,
		Entities:  len(graph.Entities),
		Relations: len(graph.Relations),
	}
	if est, ok := provider.(store.SizeEstimator); ok {
		size, err := est.ProjectSize(ctx, project)
		if err != nil {
			s.logger.Warn("failed to estimate project size", "project", project, "error", err)
		} else {
			stats.SizeBytes = size
		}
	}
	return stats, nil
}

// BackupProjectName returns "{project}_backup_{timestamp}" with a UTC,
// millisecond-precision timestamp using only letters, digits and dashes.
func BackupProjectName(project string, at time.Time) string {
	stamp := strings.ReplaceAll(at.UTC().Format(backupTimestampLayout), ".", "-")
	return fmt.Sprintf("%s_backup_%s", project, stamp)
}
