package jobs

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ArchiveName builds the job archive file name:
// {scope}_{YYYY-MM-DD_HH-MM-SS}_{jobID}.zip.
func ArchiveName(scope string, ts time.Time, jobID string) string {
	return fmt.Sprintf("%s_%s_%s.zip", scope, ts.Format("2006-01-02_15-04-05"), jobID)
}

// archiveDir zips every regular file directly under dir into dest. File
// names inside the archive are flat.
func archiveDir(dir, dest string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read export dir: %w", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := addFile(zw, filepath.Join(dir, entry.Name()), entry.Name()); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return out.Close()
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("copy %s: %w", name, err)
	}
	return nil
}
