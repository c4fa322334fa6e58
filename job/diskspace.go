package job

import (
	"log/slog"
	"syscall"

	"github.com/lufia/iostat"
)

// freeBytes reports the free space available to an unprivileged writer on
// the filesystem containing dir. lufia/iostat exposes per-device
// read/write throughput counters, not available-space figures, so it
// cannot serve this precheck; syscall.Statfs is the narrow place this
// module reaches for the standard library instead of a pack dependency
// (documented in DESIGN.md).
func freeBytes(dir string) (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}

// logDiskIOSample emits one best-effort disk-throughput sample ahead of a
// large preallocation, purely informational: a busy disk is not a reason
// to refuse the download, only something worth having in the log when
// diagnosing a slow multipart transfer after the fact. Errors (no
// permission, unsupported platform) are swallowed.
func logDiskIOSample(log *slog.Logger, downloadID string) {
	drives, err := iostat.ReadDriveStats()
	if err != nil || len(drives) == 0 {
		return
	}
	d := drives[0]
	log.Debug("disk io sample", "download_id", downloadID, "drive", d.Name,
		"bytes_read", d.BytesRead, "bytes_written", d.BytesWritten)
}
