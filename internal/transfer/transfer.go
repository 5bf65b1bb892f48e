// Package transfer copies a single remote file to local storage so that the
// destination path only ever holds a complete, size-verified file.
package transfer

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"argus/internal/models"
)

const TempSuffix = ".tmp"

// Source is the read side of a file channel.
type Source interface {
	Stat(path string) (os.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
}

// Transfer copies remotePath into localPath via localPath+".tmp", compares
// the remote and local sizes and renames into place only when they match.
// The temporary file is removed on every failure path.
func Transfer(src Source, remotePath, localPath string) error {
	tmpPath := localPath + TempSuffix

	if err := os.MkdirAll(filepath.Dir(localPath), 0700); err != nil {
		return &models.TransferError{RemotePath: remotePath, Err: fmt.Errorf("creating local dir: %w", err)}
	}

	expected, actual, err := copyToTemp(src, remotePath, tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		log.Printf("transfer: %s: %v", remotePath, err)
		return &models.TransferError{RemotePath: remotePath, Err: err}
	}
	if expected != actual {
		os.Remove(tmpPath)
		log.Printf("transfer: %s: size mismatch: remote %d, local %d", remotePath, expected, actual)
		return &models.TransferError{RemotePath: remotePath, SizeMismatch: true, Expected: expected, Actual: actual}
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return &models.TransferError{RemotePath: remotePath, Err: fmt.Errorf("moving into place: %w", err)}
	}
	return nil
}

func copyToTemp(src Source, remotePath, tmpPath string) (expected, actual int64, err error) {
	info, err := src.Stat(remotePath)
	if err != nil {
		return 0, 0, fmt.Errorf("stat remote: %w", err)
	}
	expected = info.Size()

	in, err := src.Open(remotePath)
	if err != nil {
		return 0, 0, fmt.Errorf("opening remote: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, 0, fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return 0, 0, fmt.Errorf("copying: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, 0, fmt.Errorf("closing temp file: %w", err)
	}

	local, err := os.Stat(tmpPath)
	if err != nil {
		return 0, 0, fmt.Errorf("stat local: %w", err)
	}
	return expected, local.Size(), nil
}
