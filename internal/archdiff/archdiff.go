// Package archdiff compares the file contents of two NV tar archives.
package archdiff

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
)

// Mismatch is a path present in both archives with different content.
type Mismatch struct {
	Path  string `json:"path"`
	SizeA int64  `json:"size_a"`
	SizeB int64  `json:"size_b"`
	HashA string `json:"sha256_a"`
	HashB string `json:"sha256_b"`
}

// Report is the outcome of Diff.
type Report struct {
	A          string     `json:"a"`
	B          string     `json:"b"`
	OnlyA      []string   `json:"only_a"`
	OnlyB      []string   `json:"only_b"`
	Mismatches []Mismatch `json:"mismatches"`
	CountA     int        `json:"count_a"`
	CountB     int        `json:"count_b"`
}

// Identical reports whether both archives hold the same files and bytes.
func (r *Report) Identical() bool {
	return len(r.OnlyA) == 0 && len(r.OnlyB) == 0 && len(r.Mismatches) == 0
}

type fileSum struct {
	size int64
	hash string
}

// Diff extracts a and b into private temporary directories, removed before
// returning on every path, and compares them by relative path, size and
// SHA-256. The inputs are only read.
func Diff(a, b string) (*Report, error) {
	sumsA, err := load(a)
	if err != nil {
		return nil, err
	}
	sumsB, err := load(b)
	if err != nil {
		return nil, err
	}

	r := &Report{
		A:          a,
		B:          b,
		OnlyA:      []string{},
		OnlyB:      []string{},
		Mismatches: []Mismatch{},
		CountA:     len(sumsA),
		CountB:     len(sumsB),
	}
	for _, p := range sortedKeys(sumsA) {
		fa := sumsA[p]
		fb, ok := sumsB[p]
		if !ok {
			r.OnlyA = append(r.OnlyA, p)
			continue
		}
		if fa != fb {
			r.Mismatches = append(r.Mismatches, Mismatch{Path: p, SizeA: fa.size, SizeB: fb.size, HashA: fa.hash, HashB: fb.hash})
		}
	}
	for _, p := range sortedKeys(sumsB) {
		if _, ok := sumsA[p]; !ok {
			r.OnlyB = append(r.OnlyB, p)
		}
	}
	return r, nil
}

func load(archive string) (map[string]fileSum, error) {
	dir, err := os.MkdirTemp("", "nvg-diff-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	if err := extract(archive, dir); err != nil {
		return nil, err
	}
	return summarize(dir)
}

func summarize(dir string) (map[string]fileSum, error) {
	sums := map[string]fileSum{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		f, err := os.Open(p) //nolint:gosec // walking our own temp dir
		if err != nil {
			return err
		}
		defer f.Close()
		h := sha256.New()
		n, err := io.Copy(h, f)
		if err != nil {
			return err
		}
		sums[filepath.ToSlash(rel)] = fileSum{size: n, hash: hex.EncodeToString(h.Sum(nil))}
		return nil
	})
	return sums, err
}

func sortedKeys(m map[string]fileSum) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteText renders the report for a terminal.
func (r *Report) WriteText(w io.Writer) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	printf("A: %s\nB: %s\n", r.A, r.B)
	for _, p := range r.OnlyA {
		printf("only in A: %s\n", p)
	}
	for _, p := range r.OnlyB {
		printf("only in B: %s\n", p)
	}
	for _, m := range r.Mismatches {
		printf("differs:   %s\n", m.Path)
		printf("  A %s (%d bytes) sha256 %s\n", humanize.IBytes(uint64(m.SizeA)), m.SizeA, m.HashA) //nolint:gosec // non-negative
		printf("  B %s (%d bytes) sha256 %s\n", humanize.IBytes(uint64(m.SizeB)), m.SizeB, m.HashB) //nolint:gosec // non-negative
	}
	printf("files: A=%d B=%d\n", r.CountA, r.CountB)
	return err
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
