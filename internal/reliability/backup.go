// Package reliability archives the snapshot directory to S3-compatible
// object storage so a fresh deployment can warm its cache from the last
// good scan instead of hammering the upstream source.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Config holds backup destination settings.
type Config struct {
	Bucket    string
	Endpoint  string // custom endpoint for R2/MinIO style stores, empty for AWS
	AccessKey string
	SecretKey string
	Prefix    string // object key prefix
}

// BackupService creates tar.gz archives of the snapshot tree and uploads
// them.
type BackupService struct {
	uploader *manager.Uploader
	cfg      Config
	dir      string // snapshot directory to archive
	log      zerolog.Logger
}

// NewBackupService creates a backup service for the given snapshot
// directory.
func NewBackupService(ctx context.Context, cfg Config, dir string, log zerolog.Logger) (*BackupService, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load object storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &BackupService{
		uploader: manager.NewUploader(client),
		cfg:      cfg,
		dir:      dir,
		log:      log.With().Str("service", "snapshot_backup").Logger(),
	}, nil
}

// Backup archives the snapshot directory and uploads the archive. The
// staging file lives next to the snapshot tree and is removed afterwards.
func (s *BackupService) Backup(ctx context.Context) error {
	start := time.Now()
	s.log.Info().Str("dir", s.dir).Msg("Starting snapshot backup")

	archiveName := fmt.Sprintf("snapshots-%s.tar.gz", start.Format("2006-01-02-150405"))
	archivePath := filepath.Join(filepath.Dir(s.dir), archiveName)
	defer os.Remove(archivePath)

	if err := s.createArchive(archivePath); err != nil {
		return fmt.Errorf("failed to create snapshot archive: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat snapshot archive: %w", err)
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open snapshot archive: %w", err)
	}
	defer file.Close()

	key := archiveName
	if s.cfg.Prefix != "" {
		key = strings.TrimSuffix(s.cfg.Prefix, "/") + "/" + archiveName
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot archive: %w", err)
	}

	s.log.Info().
		Str("key", key).
		Int64("size_bytes", info.Size()).
		Dur("duration", time.Since(start)).
		Msg("Snapshot backup uploaded")
	return nil
}

// createArchive writes a tar.gz of everything under the snapshot directory.
func (s *BackupService) createArchive(archivePath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gzWriter := gzip.NewWriter(out)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	return filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(tarWriter, file)
		return err
	})
}
