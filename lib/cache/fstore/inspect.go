package fstore

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/ValentinKolb/fcache/lib/pathres"
	"github.com/ValentinKolb/fcache/lib/util"
)

// GroupReport describes the files of one group directory
type GroupReport struct {
	Group string `json:"group"`
	Dir   string `json:"dir"`

	Entries    int64 `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
	TempFiles  int64 `json:"temp_files"` // leftovers of interrupted writes
	Other      int64 `json:"other"`      // files not written by the cache

	// LeafDirs is the number of directories holding entry files.
	LeafDirs int `json:"leaf_dirs"`
	// MaxDirEntries is the largest number of direct children of any directory.
	MaxDirEntries int `json:"max_dir_entries"`
	// Spread rates how evenly entries are distributed over the leaf directories.
	Spread util.DistributionStats `json:"spread"`

	Sizes  *util.SizeHistogram `json:"-"`
	Oldest time.Time           `json:"oldest"`
	Newest time.Time           `json:"newest"`
}

// Inspect walks the directory of group below baseDir and reports on the entry
// files. Entries are not decoded and no locks are taken, the report is a
// snapshot that may be outdated while other processes write.
func Inspect(baseDir, group, extension string) (*GroupReport, error) {
	paths, err := pathres.New(baseDir, &pathres.Options{Depth: 1, Width: 2, Extension: extension})
	if err != nil {
		return nil, err
	}
	dir := paths.GroupDir(group)
	suffix := "." + paths.Extension()

	report := &GroupReport{
		Group: group,
		Dir:   dir,
		Sizes: util.NewSizeHistogram(),
	}
	leaves := make(map[string]int)
	children := make(map[string]int)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				// nothing cached in this group yet
				return fs.SkipDir
			}
			return err
		}
		if path != dir {
			children[filepath.Dir(path)]++
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		switch {
		case strings.HasSuffix(name, tempSuffix):
			report.TempFiles++
			return nil
		case suffix != "." && !strings.HasSuffix(name, suffix):
			report.Other++
			return nil
		}

		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// removed while walking
			return nil
		}
		if err != nil {
			return err
		}

		report.Entries++
		report.TotalBytes += info.Size()
		report.Sizes.AddSample(info.Size())
		leaves[filepath.Dir(path)]++

		mod := info.ModTime()
		if report.Oldest.IsZero() || mod.Before(report.Oldest) {
			report.Oldest = mod
		}
		if mod.After(report.Newest) {
			report.Newest = mod
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	counts := make([]float64, 0, len(leaves))
	for _, n := range leaves {
		counts = append(counts, float64(n))
	}
	for _, n := range children {
		report.MaxDirEntries = max(report.MaxDirEntries, n)
	}

	report.LeafDirs = len(leaves)
	report.Spread = util.NewDistributionStats(counts)
	return report, nil
}
