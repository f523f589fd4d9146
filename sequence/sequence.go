// Package sequence enumerates ordered image sequences and pairs matched
// stereo directories into a read-only asset index.
package sequence

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// ErrNoAssets is returned when enumeration finds nothing to view.
var ErrNoAssets = errors.New("no matching assets found")

// imageExts are the recognized extensions, in the order tried when resolving
// a basename back to a file.
var imageExts = []string{".png", ".jpg", ".jpeg"}

// Record is one entry of the asset index: a sequence position plus one source
// path (single view) or two (stereo, left then right). Records are immutable
// after index construction.
type Record struct {
	Index int
	Base  string
	Paths []string
}

// Stereo reports whether the record has a left and a right path.
func (r Record) Stereo() bool {
	return len(r.Paths) == 2
}

// Options control index construction.
type Options struct {
	// MaxAssets caps the sequence length; zero keeps the full set. Truncation
	// is an explicit, logged policy decision, not silent data loss.
	MaxAssets int
}

// scanDir returns a map from basename to full path for every image file in
// dir. When a basename appears with several extensions the first extension in
// imageExts wins.
func scanDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read image directory %q", dir)
	}
	rank := func(ext string) int {
		for i, e := range imageExts {
			if e == ext {
				return i
			}
		}
		return len(imageExts)
	}
	found := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if rank(ext) == len(imageExts) {
			continue
		}
		base := strings.TrimSuffix(name, filepath.Ext(name))
		if prev, ok := found[base]; ok && rank(strings.ToLower(filepath.Ext(prev))) <= rank(ext) {
			continue
		}
		found[base] = filepath.Join(dir, name)
	}
	return found, nil
}

// PairBasenames returns the ascending intersection of two basename sets.
func PairBasenames(left, right map[string]string) []string {
	var matched []string
	for base := range left {
		if _, ok := right[base]; ok {
			matched = append(matched, base)
		}
	}
	sort.Strings(matched)
	return matched
}

// truncate applies the MaxAssets cap to an ordered basename list.
func truncate(bases []string, opts Options, logger golog.Logger) []string {
	if opts.MaxAssets > 0 && len(bases) > opts.MaxAssets {
		logger.Infow("sequence exceeds cap, truncating",
			"found", len(bases), "cap", opts.MaxAssets)
		bases = bases[:opts.MaxAssets]
	}
	return bases
}

// NewIndex enumerates a single image directory into an ordered asset index.
func NewIndex(dir string, opts Options, logger golog.Logger) ([]Record, error) {
	found, err := scanDir(dir)
	if err != nil {
		return nil, err
	}
	bases := make([]string, 0, len(found))
	for base := range found {
		bases = append(bases, base)
	}
	sort.Strings(bases)
	bases = truncate(bases, opts, logger)
	if len(bases) == 0 {
		return nil, errors.Wrapf(ErrNoAssets, "in %q", dir)
	}
	records := make([]Record, len(bases))
	for i, base := range bases {
		records[i] = Record{Index: i, Base: base, Paths: []string{found[base]}}
	}
	logger.Infow("enumerated image sequence", "dir", dir, "assets", len(records))
	return records, nil
}

// NewStereoIndex pairs two directories by shared basename into an ordered
// stereo asset index. Basenames present in only one directory are excluded.
func NewStereoIndex(leftDir, rightDir string, opts Options, logger golog.Logger) ([]Record, error) {
	left, err := scanDir(leftDir)
	if err != nil {
		return nil, err
	}
	right, err := scanDir(rightDir)
	if err != nil {
		return nil, err
	}
	matched := truncate(PairBasenames(left, right), opts, logger)
	if len(matched) == 0 {
		return nil, errors.Wrapf(ErrNoAssets, "no stereo pairs between %q and %q", leftDir, rightDir)
	}
	records := make([]Record, len(matched))
	for i, base := range matched {
		records[i] = Record{Index: i, Base: base, Paths: []string{left[base], right[base]}}
	}
	logger.Infow("paired stereo sequence",
		"left", leftDir, "right", rightDir, "pairs", len(records))
	return records, nil
}
