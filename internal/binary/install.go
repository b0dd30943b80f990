package binary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cryptoadvance/specter-launcher/internal/failure"
	"github.com/cryptoadvance/specter-launcher/internal/logging"
	"github.com/cryptoadvance/specter-launcher/internal/platform"
)

// Installer turns a fetched archive into the executable at the canonical
// install path.
type Installer interface {
	Install(ctx context.Context, archivePath string, id platform.ID) (string, error)
}

// FileInstaller installs into a binaries directory on the local filesystem.
type FileInstaller struct {
	binDir    string
	extractor *Extractor
	logger    logging.Logger
}

// NewInstaller creates an installer for binDir.
func NewInstaller(binDir string, logger logging.Logger) *FileInstaller {
	return &FileInstaller{
		binDir:    binDir,
		extractor: NewExtractor(),
		logger:    logging.OrNop(logger),
	}
}

// Install extracts archivePath into a sibling temp directory, locates the
// platform's executable and moves it onto the install path. The archive and
// the temp directory are removed afterwards whether or not the install
// succeeded; failing to remove them is only logged.
//
// A missing executable is KindLayout and leaves the install path untouched.
func (i *FileInstaller) Install(ctx context.Context, archivePath string, id platform.ID) (string, error) {
	target, ok := platform.Lookup(id)
	if !ok {
		return "", failure.Newf(failure.KindLayout, "install", "unsupported platform %q", id)
	}
	installPath := filepath.Join(i.binDir, target.ExecutableName)
	extractDir := filepath.Join(i.binDir, ExtractDirName)

	defer i.cleanup(archivePath, extractDir)

	// A crashed earlier run may have left a partial tree behind.
	if err := os.RemoveAll(extractDir); err != nil {
		return "", failure.New(failure.KindIO, "install", fmt.Errorf("clear extract dir: %w", err))
	}

	if err := ctx.Err(); err != nil {
		return "", failure.New(failure.KindIO, "install", err)
	}
	if err := i.extractor.Extract(archivePath, extractDir); err != nil {
		return "", err
	}

	src, err := locateExecutable(extractDir, target.ExecutableName)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", failure.New(failure.KindIO, "install", err)
	}
	if err := SetExecutable(src); err != nil {
		return "", failure.New(failure.KindIO, "install", err)
	}
	if err := i.replaceFile(src, installPath); err != nil {
		return "", failure.New(failure.KindIO, "install", err)
	}

	i.logger.Info("installed daemon executable", "path", installPath, "platform", id)
	return installPath, nil
}

// locateExecutable finds name at the root of dir, or inside a single
// top-level folder (release zips built with a wrapping directory).
func locateExecutable(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	if isRegularFile(candidate) {
		return candidate, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", failure.New(failure.KindIO, "install", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		candidate = filepath.Join(dir, entries[0].Name(), name)
		if isRegularFile(candidate) {
			return candidate, nil
		}
	}

	return "", failure.Newf(failure.KindLayout, "install", "%s not found in archive", name)
}

func isRegularFile(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode().IsRegular()
}

// replaceFile moves src onto dst. A previous dst is moved aside first so the
// path never holds two files' worth of content, and restored if the move-in
// fails. The previous occupant may be a directory.
func (i *FileInstaller) replaceFile(src, dst string) error {
	backup := dst + ".old"
	i.removeBackup(backup)

	hadPrevious := false
	if _, err := os.Lstat(dst); err == nil {
		if err := os.Rename(dst, backup); err != nil {
			return fmt.Errorf("move previous executable aside: %w", err)
		}
		hadPrevious = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat install path: %w", err)
	}

	if err := os.Rename(src, dst); err != nil {
		if hadPrevious {
			_ = os.Rename(backup, dst)
		}
		return fmt.Errorf("move executable into place: %w", err)
	}

	if hadPrevious {
		i.removeBackup(backup)
	}
	return nil
}

func (i *FileInstaller) removeBackup(path string) {
	if err := os.RemoveAll(path); err != nil {
		i.logger.Warn("failed to remove previous executable", "path", path, "error", err)
	}
}

func (i *FileInstaller) cleanup(archivePath, extractDir string) {
	if err := os.Remove(archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		i.logger.Warn("failed to remove archive", "path", archivePath, "error", err)
	}
	if err := os.RemoveAll(extractDir); err != nil {
		i.logger.Warn("failed to remove extract dir", "path", extractDir, "error", err)
	}
}
