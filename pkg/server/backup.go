package server

import (
	"log"
	"time"

	"github.com/duskhaven-mud/duskhaven/pkg/archive"
)

// Backup writes one point-in-time archive of the store, the audit
// database and the config file, then prunes old backups. Returns the
// archive path.
func (srv *Server) Backup() (string, error) {
	cfg := srv.live.Get()
	st := srv.world.Store()

	path, err := archive.Create(archive.Params{
		StoreSnapshotFunc: st.Backup,
		AuditPath:         cfg.AuditDatabase,
		ConfPath:          srv.live.Path(),
		ArchiveDir:        cfg.BackupDir,
		MudName:           cfg.MudName,
		AccountCount:      st.AccountCount(),
	})
	if err != nil {
		return "", err
	}
	log.Printf("Backup written to %s", path)

	if err := archive.Prune(cfg.BackupDir, cfg.BackupKeep); err != nil {
		log.Printf("backup prune: %v", err)
	}
	return path, nil
}

// backupLoop runs scheduled backups until stop is closed. Disabled when
// no backup directory is configured or the interval is zero.
func (srv *Server) backupLoop(stop <-chan struct{}) {
	cfg := srv.live.Get()
	if cfg.BackupDir == "" || cfg.BackupInterval <= 0 {
		return
	}
	interval := time.Duration(cfg.BackupInterval) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("Scheduled backups every %s into %s", interval, cfg.BackupDir)
	for {
		select {
		case <-ticker.C:
			if _, err := srv.Backup(); err != nil {
				log.Printf("scheduled backup: %v", err)
			}
		case <-stop:
			return
		}
	}
}
