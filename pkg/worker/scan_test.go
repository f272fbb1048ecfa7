package worker

import (
	"archive/zip"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/robinjoseph08/golib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankobooks/tanko/pkg/config"
	"github.com/tankobooks/tanko/pkg/files"
	"github.com/tankobooks/tanko/pkg/jobs"
	"github.com/tankobooks/tanko/pkg/libraries"
	"github.com/tankobooks/tanko/pkg/migrations"
	"github.com/tankobooks/tanko/pkg/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestWorker(t *testing.T) (*Worker, *bun.DB, string) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	cfg := config.NewForTest()
	cfg.CoverCacheDir = t.TempDir()

	rootDir := t.TempDir()
	return New(cfg, db), db, rootDir
}

func writeComic(t *testing.T, rootDir, relPath string) {
	t.Helper()

	path := filepath.Join(rootDir, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range []string{"001.jpg", "002.jpg"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("image bytes for " + name))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestProcessScanJob(t *testing.T) {
	w, db, rootDir := newTestWorker(t)
	ctx := logger.New().WithContext(context.Background())

	library := &models.Library{
		Name:         "Test Library",
		LibraryPaths: []*models.LibraryPath{{Filepath: rootDir}},
	}
	require.NoError(t, libraries.NewService(db).CreateLibrary(ctx, library))

	writeComic(t, rootDir, "Saga/Saga 001.cbz")
	writeComic(t, rootDir, "Saga/Saga 002.cbz")

	job := &models.Job{Type: jobs.JobTypeScan, Status: jobs.JobStatusPending, LibraryID: &library.ID}
	require.NoError(t, jobs.NewService(db).CreateJob(ctx, job))

	require.NoError(t, w.ProcessScanJob(ctx, job))
	assert.Equal(t, 100, job.Progress, "all three phases advance progress")

	indexed, err := files.NewService(db).ListFiles(ctx, files.ListFilesOptions{
		LibraryID: &library.ID,
		Statuses:  []string{models.FileStatusIndexed},
	})
	require.NoError(t, err)
	require.Len(t, indexed, 2)
	for _, file := range indexed {
		require.NotNil(t, file.SeriesNameRaw)
		assert.Equal(t, "Saga", *file.SeriesNameRaw)
		assert.NotNil(t, file.SeriesID)
		assert.NotNil(t, file.CoverHash)
	}
}

func TestProcessScanJobScansAllLibrariesWithoutTarget(t *testing.T) {
	w, db, rootDir := newTestWorker(t)
	ctx := logger.New().WithContext(context.Background())

	secondRoot := t.TempDir()
	for i, root := range []string{rootDir, secondRoot} {
		library := &models.Library{
			Name:         []string{"First", "Second"}[i],
			LibraryPaths: []*models.LibraryPath{{Filepath: root}},
		}
		require.NoError(t, libraries.NewService(db).CreateLibrary(ctx, library))
	}

	writeComic(t, rootDir, "Alpha/Alpha 001.cbz")
	writeComic(t, secondRoot, "Beta/Beta 001.cbz")

	job := &models.Job{Type: jobs.JobTypeScan, Status: jobs.JobStatusPending}
	require.NoError(t, jobs.NewService(db).CreateJob(ctx, job))

	require.NoError(t, w.ProcessScanJob(ctx, job))
	assert.Equal(t, 100, job.Progress)

	indexed, err := files.NewService(db).ListFiles(ctx, files.ListFilesOptions{
		Statuses: []string{models.FileStatusIndexed},
	})
	require.NoError(t, err)
	assert.Len(t, indexed, 2)
}

func TestProcessScanJobNoLibraries(t *testing.T) {
	w, db, _ := newTestWorker(t)
	ctx := logger.New().WithContext(context.Background())

	job := &models.Job{Type: jobs.JobTypeScan, Status: jobs.JobStatusPending}
	require.NoError(t, jobs.NewService(db).CreateJob(ctx, job))

	require.NoError(t, w.ProcessScanJob(ctx, job))
	assert.Equal(t, 0, job.Progress)
}

func TestProcessScanJobMissingLibraryFails(t *testing.T) {
	w, db, _ := newTestWorker(t)
	ctx := logger.New().WithContext(context.Background())

	missing := 9999
	job := &models.Job{Type: jobs.JobTypeScan, Status: jobs.JobStatusPending, LibraryID: &missing}
	require.NoError(t, jobs.NewService(db).CreateJob(ctx, job))

	require.Error(t, w.ProcessScanJob(ctx, job))
}
