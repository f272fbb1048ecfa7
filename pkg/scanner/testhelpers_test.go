package scanner

import (
	"archive/zip"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/robinjoseph08/golib/logger"
	"github.com/stretchr/testify/require"
	"github.com/tankobooks/tanko/pkg/archive"
	"github.com/tankobooks/tanko/pkg/config"
	"github.com/tankobooks/tanko/pkg/files"
	"github.com/tankobooks/tanko/pkg/libraries"
	"github.com/tankobooks/tanko/pkg/migrations"
	"github.com/tankobooks/tanko/pkg/models"
	"github.com/tankobooks/tanko/pkg/series"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// testContext holds the dependencies needed for scan phase tests: an
// in-memory database, a scanner, and a temp directory acting as the single
// library root.
type testContext struct {
	t             *testing.T
	ctx           context.Context
	db            *bun.DB
	scanner       *Scanner
	fileService   *files.Service
	seriesService *series.Service
	library       *models.Library
	rootDir       string
	coverDir      string
}

func newTestContext(t *testing.T) *testContext {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	rootDir := t.TempDir()
	coverDir := t.TempDir()

	cfg := config.NewForTest()
	cfg.CoverCacheDir = coverDir

	library := &models.Library{
		Name:         "Test Library",
		LibraryPaths: []*models.LibraryPath{{Filepath: rootDir}},
	}
	ctx := logger.New().WithContext(context.Background())
	require.NoError(t, libraries.NewService(db).CreateLibrary(ctx, library))

	return &testContext{
		t:             t,
		ctx:           ctx,
		db:            db,
		scanner:       New(cfg, db, archive.NewReader(nil)),
		fileService:   files.NewService(db),
		seriesService: series.NewService(db),
		library:       library,
		rootDir:       rootDir,
		coverDir:      coverDir,
	}
}

// writeArchive creates a CBZ at relPath under the library root. sidecar is
// embedded as ComicInfo.xml when non-empty.
func (tc *testContext) writeArchive(relPath, sidecar string) string {
	tc.t.Helper()

	path := filepath.Join(tc.rootDir, filepath.FromSlash(relPath))
	require.NoError(tc.t, os.MkdirAll(filepath.Dir(path), 0o755))

	f, err := os.Create(path)
	require.NoError(tc.t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range []string{"001.jpg", "002.jpg"} {
		w, err := zw.Create(name)
		require.NoError(tc.t, err)
		_, err = w.Write([]byte("image bytes for " + name))
		require.NoError(tc.t, err)
	}
	if sidecar != "" {
		w, err := zw.Create("ComicInfo.xml")
		require.NoError(tc.t, err)
		_, err = w.Write([]byte(sidecar))
		require.NoError(tc.t, err)
	}
	require.NoError(tc.t, zw.Close())
	return path
}

func (tc *testContext) discover(opts Options) *DiscoveryResult {
	tc.t.Helper()
	result, err := tc.scanner.DiscoverLibrary(tc.ctx, tc.library.ID, opts)
	require.NoError(tc.t, err)
	return result
}

func (tc *testContext) extractMetadata(opts Options) *MetadataResult {
	tc.t.Helper()
	result, err := tc.scanner.ExtractMetadata(tc.ctx, tc.library.ID, opts)
	require.NoError(tc.t, err)
	return result
}

func (tc *testContext) extractCovers(opts Options) *CoverResult {
	tc.t.Helper()
	result, err := tc.scanner.ExtractCovers(tc.ctx, tc.library.ID, opts)
	require.NoError(tc.t, err)
	return result
}

func (tc *testContext) fileByPath(path string) *models.File {
	tc.t.Helper()
	file, err := tc.fileService.RetrieveFile(tc.ctx, files.RetrieveFileOptions{Filepath: &path})
	require.NoError(tc.t, err)
	return file
}
