package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Problem is one inconsistency found by Verify.
type Problem struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (p Problem) String() string { return p.Path + ": " + p.Message }

// Verify re-hashes every file listed in SHA256SUMS and checks manifest sizes
// against the files on disk. Files present but absent from SHA256SUMS are
// reported too. The error is only for an unreadable bundle.
func Verify(dir string) ([]Problem, error) {
	order, sums, err := ReadChecksums(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", SumsFile, err)
	}
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ManifestFile, err)
	}

	var problems []Problem
	for _, rel := range order {
		got, err := HashFile(filepath.Join(dir, filepath.FromSlash(rel)))
		switch {
		case os.IsNotExist(err):
			problems = append(problems, Problem{rel, "listed in " + SumsFile + " but missing"})
		case err != nil:
			problems = append(problems, Problem{rel, err.Error()})
		case got != sums[rel]:
			problems = append(problems, Problem{rel, fmt.Sprintf("checksum mismatch: want %s got %s", sums[rel], got)})
		}
	}

	present, err := bundleFiles(dir)
	if err != nil {
		return nil, err
	}
	for _, rel := range present {
		if _, ok := sums[rel]; !ok {
			problems = append(problems, Problem{rel, "not covered by " + SumsFile})
		}
	}

	check := func(rel string, size int64) {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
		switch {
		case err != nil:
			problems = append(problems, Problem{rel, "listed in manifest but missing"})
		case info.Size() != size:
			problems = append(problems, Problem{rel, fmt.Sprintf("manifest size %d, file size %d", size, info.Size())})
		}
	}
	for _, p := range m.Partitions {
		check(p.File, p.Size)
	}
	for _, a := range m.NVArchives {
		check(a.File, a.Size)
	}

	sort.SliceStable(problems, func(i, j int) bool { return problems[i].Path < problems[j].Path })
	return problems, nil
}
