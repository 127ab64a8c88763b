package bundle

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotADirectory is returned when the archive source is missing or is not a directory.
var ErrNotADirectory = errors.New("not a directory")

// Archive compresses sourceDir into a tar.gz at outputPath. Entries are rooted
// at the base name of sourceDir, so extracting reproduces that directory.
// Nothing is written when sourceDir is not a directory.
func Archive(outputPath, sourceDir string) (err error) {
	info, statErr := os.Stat(sourceDir)
	if statErr != nil {
		return fmt.Errorf("%s: %w: %v", sourceDir, ErrNotADirectory, statErr)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", sourceDir, ErrNotADirectory)
	}

	sourceDir = filepath.Clean(sourceDir)
	root := filepath.Base(sourceDir)
	outputAbs, _ := filepath.Abs(outputPath)

	archiveFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating archive %s: %w", outputPath, err)
	}
	defer func() {
		if err != nil {
			os.Remove(outputPath)
		}
	}()

	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)

	walkErr := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if abs, _ := filepath.Abs(path); abs == outputAbs {
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(filepath.Join(root, rel))
		if d.IsDir() {
			header.Name += "/"
		}

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		data, err := os.Open(path)
		if err != nil {
			return err
		}
		defer data.Close()
		_, err = io.Copy(tarWriter, data)
		return err
	})

	for _, closeErr := range []error{walkErr, tarWriter.Close(), gzipWriter.Close(), archiveFile.Close()} {
		if closeErr != nil {
			return fmt.Errorf("writing archive %s: %w", outputPath, closeErr)
		}
	}
	return nil
}

// List returns the entry names of a tar.gz archive in order.
func List(archivePath string) ([]string, error) {
	var names []string
	err := walkArchive(archivePath, func(header *tar.Header, _ io.Reader) error {
		names = append(names, header.Name)
		return nil
	})
	return names, err
}

// Extract unpacks a tar.gz archive into dest. Entries escaping dest are rejected.
func Extract(archivePath, dest string) error {
	dest = filepath.Clean(dest)
	return walkArchive(archivePath, func(header *tar.Header, content io.Reader) error {
		target := filepath.Join(dest, filepath.FromSlash(header.Name))
		if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			return os.MkdirAll(target, 0o755)
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, content); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		}
		return nil
	})
}

func walkArchive(archivePath string, fn func(*tar.Header, io.Reader) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gzReader, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("opening %s: %w", archivePath, err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", archivePath, err)
		}
		if err := fn(header, tarReader); err != nil {
			return err
		}
	}
}
