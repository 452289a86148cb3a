package metrics

import (
	"io/fs"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
)

var processStart = time.Now()

// SysHealth is a snapshot of the process and its data directory.
type SysHealth struct {
	AllocMB    uint64
	SysMB      uint64
	NumGC      uint32
	Goroutines int
	Started    string

	DataFiles    int
	DataDiskSize string
}

// GetSysHealth reads runtime memory statistics and sums the regular files
// under dataPath. An unreadable data directory reports as empty.
func GetSysHealth(dataPath string) SysHealth {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	files, bytes := usage(dataPath)
	return SysHealth{
		AllocMB:      mem.Alloc >> 20,
		SysMB:        mem.Sys >> 20,
		NumGC:        mem.NumGC,
		Goroutines:   runtime.NumGoroutine(),
		Started:      humanize.Time(processStart),
		DataFiles:    files,
		DataDiskSize: humanize.IBytes(bytes),
	}
}

func usage(root string) (files int, size uint64) {
	filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			files++
			size += uint64(info.Size())
		}
		return nil
	})
	return files, size
}
