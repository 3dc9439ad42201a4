package backup

import (
	"bytes"
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const rootBackupsFolderName = "healthsync-backup"

// GoogleDriveBackup keeps dated copies of the stats store in a
// dedicated drive folder. Files are addressed by name and never
// overwritten, a name already present in the folder gets skipped.
type GoogleDriveBackup struct {
	service         *drive.Service
	backupsFolderId string
}

func NewGoogleDriveBackup(ctx context.Context, credentialsJson []byte) (*GoogleDriveBackup, error) {
	driveService, err := drive.NewService(ctx, option.WithCredentialsJSON(credentialsJson))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve drive client: %w", err)
	}

	b := &GoogleDriveBackup{service: driveService}

	rootFolderQuery := fmt.Sprintf(
		"mimeType = 'application/vnd.google-apps.folder' and trashed = false and name = '%s'",
		rootBackupsFolderName,
	)
	folders, err := driveService.
		Files.List().
		Q(rootFolderQuery).
		Fields("files(id, name)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to list drive folders: %w", err)
	}

	switch len(folders.Files) {
	case 0:
		log.Println("drive backup: root backups folder not found, creating ...")
		folderId, err := b.createRootBackupsFolder(ctx)
		if err != nil {
			return nil, fmt.Errorf("create root backups folder: %w", err)
		}
		log.Printf("drive backup: new root backups folder created: %s", folderId)
		b.backupsFolderId = folderId
	case 1:
		b.backupsFolderId = folders.Files[0].Id
		log.Printf("drive backup: root backups folder found: %s", b.backupsFolderId)
	default:
		b.backupsFolderId = folders.Files[0].Id
		log.Warnf("drive backup: found %d root backups folders, taking the first one: %s",
			len(folders.Files), b.backupsFolderId)
	}

	return b, nil
}

// Backup uploads the file bytes under the given name, unless a file
// with that name is already in the backups folder.
func (b *GoogleDriveBackup) Backup(ctx context.Context, name string, data []byte) error {
	existing, err := b.backupFiles(ctx)
	if err != nil {
		return fmt.Errorf("list backup files: %w", err)
	}
	for _, file := range existing {
		if file.Name == name {
			log.Tracef("drive backup: %s already uploaded, skipping", name)
			return nil
		}
	}

	fileMeta := &drive.File{
		Name:     name,
		MimeType: "text/csv",
		Parents:  []string{b.backupsFolderId},
	}

	created, err := b.service.
		Files.Create(fileMeta).
		Fields("id, parents").
		Media(bytes.NewReader(data)).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}

	log.Printf("drive backup: %s saved [%d bytes]: %s", name, len(data), created.Id)
	return nil
}

func (b *GoogleDriveBackup) createRootBackupsFolder(ctx context.Context) (string, error) {
	backupsFolderMeta := &drive.File{
		Name:     rootBackupsFolderName,
		MimeType: "application/vnd.google-apps.folder",
	}

	created, err := b.service.
		Files.Create(backupsFolderMeta).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (b *GoogleDriveBackup) backupFiles(ctx context.Context) ([]*drive.File, error) {
	query := fmt.Sprintf(
		"'%s' in parents and mimeType != 'application/vnd.google-apps.folder' and trashed = false",
		b.backupsFolderId,
	)
	backups, err := b.service.
		Files.List().
		Q(query).
		Fields("files(id, name, createdTime)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	return backups.Files, nil
}
