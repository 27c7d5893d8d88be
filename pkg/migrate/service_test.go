package migrate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/kgstore/pkg/store"
)

func newProvider(t *testing.T, conn string) *store.SQLiteProvider {
	t.Helper()
	cfg, err := store.NewConfig(store.StorageTypeSQLite, conn, store.Options{})
	require.NoError(t, err)
	p, err := store.NewSQLiteProvider(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// fiveByThree has 5 entities and 3 relations.
func fiveByThree() *store.KnowledgeGraph {
	g := &store.KnowledgeGraph{}
	for i := 0; i < 5; i++ {
		g.Entities = append(g.Entities, store.Entity{
			Name:         fmt.Sprintf("entity-%d", i),
			EntityType:   "Concept",
			Observations: []string{fmt.Sprintf("observation %d", i)},
			Tags:         []string{"migrated"},
		})
	}
	for i := 0; i < 3; i++ {
		g.Relations = append(g.Relations, store.Relation{
			From: fmt.Sprintf("entity-%d", i), To: fmt.Sprintf("entity-%d", i+1), RelationType: "links_to",
		})
	}
	return g
}

func TestMigrateAndValidate(t *testing.T) {
	ctx := context.Background()
	source := newProvider(t, "sqlite://"+filepath.Join(t.TempDir(), "a.db"))
	target := newProvider(t, "sqlite://:memory:")
	require.NoError(t, source.SaveGraph(ctx, fiveByThree(), "p1"))

	svc := NewService(ServiceOptions{})

	res, err := svc.MigrateFromStorage(ctx, "p1", source, target)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Entities)
	assert.Equal(t, 3, res.Relations)
	assert.False(t, res.Skipped)

	assert.True(t, svc.ValidateMigration(ctx, "p1", source, target))

	// Drop one entity from the target.
	migrated, err := target.LoadGraph(ctx, "p1")
	require.NoError(t, err)
	migrated.Entities = migrated.Entities[1:]
	require.NoError(t, target.SaveGraph(ctx, migrated, "p1"))

	assert.False(t, svc.ValidateMigration(ctx, "p1", source, target))
}

func TestMigrate_EmptySourceLeavesTargetUntouched(t *testing.T) {
	ctx := context.Background()
	source := newProvider(t, "sqlite://:memory:")
	target := newProvider(t, "sqlite://:memory:")
	require.NoError(t, target.SaveGraph(ctx, fiveByThree(), "p1"))

	res, err := NewService(ServiceOptions{}).MigrateFromStorage(ctx, "p1", source, target)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	kept, err := target.LoadGraph(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, kept.Entities, 5)
}

func TestMigrate_WrapsLoadError(t *testing.T) {
	source := newProvider(t, "sqlite://:memory:")
	target := newProvider(t, "sqlite://:memory:")
	require.NoError(t, source.Close())

	_, err := NewService(ServiceOptions{}).MigrateFromStorage(context.Background(), "p1", source, target)
	require.ErrorIs(t, err, store.ErrNotInitialized)
	assert.Contains(t, err.Error(), `migrate project "p1"`)
}

func TestValidateMigration_LoadFailureIsFalse(t *testing.T) {
	source := newProvider(t, "sqlite://:memory:")
	target := newProvider(t, "sqlite://:memory:")
	require.NoError(t, target.Close())

	var buf bytes.Buffer
	svc := NewService(ServiceOptions{Logger: slog.New(slog.NewTextHandler(&buf, nil))})

	assert.False(t, svc.ValidateMigration(context.Background(), "p1", source, target))
	assert.Contains(t, buf.String(), "migration validation failed")
}

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	primary := newProvider(t, "sqlite://:memory:")
	backups := newProvider(t, "sqlite://:memory:")
	require.NoError(t, primary.SaveGraph(ctx, fiveByThree(), "p1"))

	fixed := time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.FixedZone("CET", 3600))
	svc := NewService(ServiceOptions{Clock: func() time.Time { return fixed }})

	name, err := svc.BackupData(ctx, "p1", primary, backups)
	require.NoError(t, err)
	assert.Equal(t, "p1_backup_2026-03-04T04-06-07-890Z", name)

	original, err := primary.LoadGraph(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, original.Entities, 5, "backup leaves the source untouched")

	res, err := svc.RestoreData(ctx, name, "p1-restored", backups, primary)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Entities)
	assert.Equal(t, 3, res.Relations)

	restored, err := primary.LoadGraph(ctx, "p1-restored")
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestRestore_EmptyBackup(t *testing.T) {
	p := newProvider(t, "sqlite://:memory:")

	_, err := NewService(ServiceOptions{}).RestoreData(context.Background(), "missing_backup", "p1", p, p)
	assert.ErrorIs(t, err, ErrEmptyBackup)
}

func TestGetProjectStats(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, "sqlite://:memory:")
	require.NoError(t, p.SaveGraph(ctx, fiveByThree(), "p1"))

	stats, err := NewService(ServiceOptions{}).GetProjectStats(ctx, "p1", p)
	require.NoError(t, err)
	assert.Equal(t, "p1", stats.Project)
	assert.Equal(t, 5, stats.Entities)
	assert.Equal(t, 3, stats.Relations)
	assert.Positive(t, stats.SizeBytes)
}

func TestBackupProjectName(t *testing.T) {
	at := time.Date(2025, 12, 31, 23, 59, 59, 5_000_000, time.UTC)
	assert.Equal(t, "kg_backup_2025-12-31T23-59-59-005Z", BackupProjectName("kg", at))
}
