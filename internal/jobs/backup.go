package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneta-app/moneta/internal/database"
)

// Backup snapshots the store into a dated file in the backup directory.
type Backup struct {
	db      *database.DB
	dir     string
	timeout time.Duration
	log     zerolog.Logger
}

func NewBackup(db *database.DB, dir string, log zerolog.Logger) *Backup {
	return &Backup{
		db:      db,
		dir:     dir,
		timeout: 5 * time.Minute,
		log:     log.With().Str("job", "backup").Logger(),
	}
}

func (b *Backup) Name() string { return "backup" }

func (b *Backup) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	dest := filepath.Join(b.dir, fmt.Sprintf("ledger-%s.db", time.Now().Format("20060102-150405")))
	if err := b.db.BackupTo(ctx, dest); err != nil {
		return err
	}
	b.log.Info().Str("dest", dest).Msg("ledger backed up")
	return nil
}
