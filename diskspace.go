package archiver

import (
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
)

// freeSpace returns the space available to unprivileged users on the
// volume holding path.
func freeSpace(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// nearestExistingDir walks up from path to the first directory that
// exists, so free space can be queried before the destination is created.
func nearestExistingDir(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		info, err := os.Stat(p)
		if err == nil {
			if info.IsDir() {
				return p, nil
			}
			return filepath.Dir(p), nil
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		p = parent
	}
}

// requiredSpace is the number of bytes extracting the listing needs. If
// the backend could not tell entry sizes, the archive's own size is used.
func requiredSpace(entries []Entry, archivePath string) (uint64, error) {
	var total uint64
	for _, e := range entries {
		if e.Length > 0 {
			total += uint64(e.Length)
		}
	}
	if total > 0 {
		return total, nil
	}
	info, err := os.Stat(archivePath)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}
