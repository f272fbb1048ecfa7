package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/tankobooks/tanko/pkg/config"
	"github.com/tankobooks/tanko/pkg/database"
	"github.com/tankobooks/tanko/pkg/migrations"
	"github.com/tankobooks/tanko/pkg/version"
	"github.com/tankobooks/tanko/pkg/worker"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting tankod", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	if err := initCoverDir(cfg.CoverCacheDir); err != nil {
		log.Err(err).Fatal("cover directory error")
	}
	log.Info("cover directory initialized", logger.Data{"path": cfg.CoverCacheDir})

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	wrkr := worker.New(cfg, db)

	graceful := signals.Setup()

	wrkr.Start()
	log.Info("worker started")

	<-graceful
	log.Info("starting graceful shutdown")

	wrkr.Shutdown()
	log.Info("worker shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}

// initCoverDir creates the cover cache directory and verifies write
// permissions so the cover phase doesn't fail mid-scan.
func initCoverDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create cover directory: %s", dir)
	}

	testFile := dir + "/.write_test"
	f, err := os.Create(testFile)
	if err != nil {
		return errors.Wrapf(err, "cover directory is not writable: %s", dir)
	}
	f.Close()

	if err := os.Remove(testFile); err != nil {
		return errors.Wrapf(err, "failed to clean up write test file: %s", testFile)
	}

	return nil
}
