package kvstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// ErrNotEnoughSpace is returned by the precheck when the configured
// minimum free space is not available on the store's volume.
var ErrNotEnoughSpace = errors.New("tangle: not enough free disk space for kvstore")

// checkDiskSpace validates the target directory and, when
// MinimumFreeSpace is set, that the volume backing it has enough
// headroom. Mirrors the precheck the teacher ran before badger.Open, now
// via gopsutil instead of raw syscalls so the check works the same way
// on every platform gopsutil supports.
func checkDiskSpace(cfg Config) error {
	if cfg.Path == "" {
		return errors.New("tangle: kvstore path is empty")
	}

	info, err := os.Stat(cfg.Path)
	if os.IsNotExist(err) {
		return fmt.Errorf("tangle: path %q does not exist", cfg.Path)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("tangle: path %q is not a directory", cfg.Path)
	}

	if cfg.MinimumFreeSpace <= 0 {
		return nil
	}

	usage, err := disk.Usage(cfg.Path)
	if err != nil {
		return fmt.Errorf("tangle: reading disk usage for %q: %w", cfg.Path, err)
	}

	freeGB := usage.Free / (1024 * 1024 * 1024)
	cfg.Logger.WithFields(logrus.Fields{
		"path":     cfg.Path,
		"free_gb":  freeGB,
		"total_gb": usage.Total / (1024 * 1024 * 1024),
	}).Info("kvstore disk usage")

	if int(freeGB) < cfg.MinimumFreeSpace {
		return fmt.Errorf("%w: have %dGB, need %dGB", ErrNotEnoughSpace, freeGB, cfg.MinimumFreeSpace)
	}
	return nil
}
