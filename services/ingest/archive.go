package ingest

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"iplfleet/pkg/s3"
)

// Archiver packs a host's downloaded results directory into a tar.zst
// object so raw telemetry survives local results-root cleanup.
type Archiver struct {
	client *s3.Client
	bucket string
	now    func() time.Time
}

// NewArchiver creates an archiver writing to the given bucket.
func NewArchiver(client *s3.Client, bucket string) (*Archiver, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &Archiver{client: client, bucket: bucket, now: time.Now}, nil
}

// ArchiveHost uploads everything under dir as one archive and returns the
// object key, shaped results/<host>/<timestamp>.tar.zst.
func (a *Archiver) ArchiveHost(ctx context.Context, host, dir string) (string, error) {
	var buf bytes.Buffer
	if err := writeArchive(&buf, dir); err != nil {
		return "", err
	}

	digest := sha256.Sum256(buf.Bytes())
	key := fmt.Sprintf("results/%s/%s.tar.zst", host, a.now().UTC().Format("20060102T150405Z"))

	err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), hex.EncodeToString(digest[:]))
	if err != nil {
		return "", err
	}
	return key, nil
}

func writeArchive(w io.Writer, dir string) error {
	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(encoder)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		header := &tar.Header{
			Name:     filepath.ToSlash(rel),
			Mode:     0o644,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, file)
		file.Close()
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return encoder.Close()
}
