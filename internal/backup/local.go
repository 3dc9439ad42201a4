package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jayms/healthsync/pkg"

	log "github.com/sirupsen/logrus"
)

// LocalBackup mirrors the stats store into a folder watched by the
// sync client (nextcloud), so the data ends up on the other machines
// without any extra moving parts.
type LocalBackup struct {
	syncFolderPath string
}

func NewLocalBackup(syncFolderPath string) (*LocalBackup, error) {
	if err := pkg.EnsureDir(syncFolderPath); err != nil {
		return nil, fmt.Errorf("ensure sync folder: %w", err)
	}
	return &LocalBackup{syncFolderPath: syncFolderPath}, nil
}

// Backup copies the file bytes into the sync folder under the given
// name, replacing the previous copy. The write goes through a temp
// file so the sync client never picks up a half-written file.
func (b *LocalBackup) Backup(_ context.Context, name string, data []byte) error {
	tempFile, err := os.CreateTemp(b.syncFolderPath, ".backup-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	destPath := filepath.Join(b.syncFolderPath, name)
	if err := os.Rename(tempFile.Name(), destPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	log.Debugf("local backup: %s saved [%d bytes]", destPath, len(data))
	return nil
}
