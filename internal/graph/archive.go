package graph

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archiver"
	"github.com/sirupsen/logrus"
)

// loadArchiveTree walks a directory tree whose leaves are either bare
// "friends<UID>.csv" files or "<2-digit>.tar" archives (themselves
// containing "<3-digit>/<3-digit>/friends<UID>.csv" entries), per
// spec.md §4.2 / §6. Uses mholt/archiver.Walk for the tar entries, the
// same idiom mholt-timeliner uses to stream a twitter archive's
// tweet.js without fully extracting it to disk first.
func loadArchiveTree(root string, opts Options, out chan<- Record, stats *Stats) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logrus.WithError(err).WithField("path", path).Warn("skipping unreadable path")
			stats.FilesSkipped++
			return nil
		}
		if d.IsDir() {
			return nil
		}

		switch {
		case strings.HasSuffix(d.Name(), ".tar"):
			if err := loadTarArchive(path, opts, out, stats); err != nil {
				logrus.WithError(err).WithField("path", path).Warn("skipping unreadable archive")
				stats.FilesSkipped++
			}
		case strings.HasPrefix(d.Name(), "friends") && strings.HasSuffix(d.Name(), ".csv"):
			uid, ok := friendsFilenameUID(d.Name())
			if !ok {
				stats.UnparseableUIDs++
				return nil
			}
			body, err := os.ReadFile(path)
			if err != nil {
				logrus.WithError(err).WithField("path", path).Warn("skipping unreadable friends file")
				stats.FilesSkipped++
				return nil
			}
			rec := parseCSVBody(uid, body, opts, stats)
			stats.UsersLoaded++
			out <- rec
		default:
			stats.FilesSkipped++
		}
		return nil
	})
}

func loadTarArchive(archivePath string, opts Options, out chan<- Record, stats *Stats) error {
	return archiver.Walk(archivePath, func(f archiver.File) error {
		defer f.Close()
		if f.IsDir() {
			return nil
		}

		name := entryName(f)
		if !strings.HasPrefix(filepath.Base(name), "friends") || !strings.HasSuffix(name, ".csv") {
			stats.FilesSkipped++
			return nil
		}

		uid, ok := friendsFilenameUID(name)
		if !ok {
			stats.UnparseableUIDs++
			return nil
		}

		body, err := io.ReadAll(f)
		if err != nil {
			stats.FilesSkipped++
			return nil
		}

		rec := parseCSVBody(uid, body, opts, stats)
		stats.UsersLoaded++
		out <- rec
		return nil
	})
}

// entryName recovers the full in-archive path of a tar entry when
// available (archiver.File.Header for tar archives is a *tar.Header,
// whose Name field carries the full path, unlike os.FileInfo.Name()
// which is basename-only).
func entryName(f archiver.File) string {
	if th, ok := f.Header.(*tar.Header); ok {
		return th.Name
	}
	return f.Name()
}
