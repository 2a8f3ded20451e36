// Package backup builds and verifies partition/NV backup bundles.
//
// A bundle directory looks like:
//
//	parts/<partition>.img   raw partition images (+ <partition>.log on dump warnings)
//	nv/<area>_<stamp>.tar.gz
//	getprop_focus.txt
//	getprop_all.txt
//	manifest.json
//	SHA256SUMS              every other file, sorted by path
package backup

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Bundle layout names.
const (
	PartsDir     = "parts"
	NVDir        = "nv"
	ManifestFile = "manifest.json"
	SumsFile     = "SHA256SUMS"
	FocusFile    = "getprop_focus.txt"
	AllPropsFile = "getprop_all.txt"
)

// PartitionEntry is one captured partition image.
type PartitionEntry struct {
	Name string `json:"name"`
	File string `json:"file"`
	Size int64  `json:"size"`
}

// ArchiveEntry is one NV tar archive.
type ArchiveEntry struct {
	File string `json:"file"`
	Size int64  `json:"size"`
}

// Manifest is the structured description written to manifest.json.
type Manifest struct {
	Device     string           `json:"device"`
	Timestamp  string           `json:"timestamp"`
	Partitions []PartitionEntry `json:"partitions"`
	NVArchives []ArchiveEntry   `json:"nv_archives"`
}

// Bundle is the result of a build.
type Bundle struct {
	Dir      string
	Manifest Manifest
	// Resumed lists artifacts that already existed and were not re-fetched.
	Resumed []string
	// Skipped lists requested partitions with no by-name node on the device.
	Skipped  []string
	Warnings []string
}

// TotalSize sums every artifact in the manifest.
func (b *Bundle) TotalSize() int64 {
	var n int64
	for _, p := range b.Manifest.Partitions {
		n += p.Size
	}
	for _, a := range b.Manifest.NVArchives {
		n += a.Size
	}
	return n
}

// scanManifest lists non-empty artifacts currently on disk. Entries are
// derived from the directory, not from what this run fetched, so resumed
// files are always included.
func scanManifest(dir, device, stamp string) (Manifest, error) {
	m := Manifest{Device: device, Timestamp: stamp, Partitions: []PartitionEntry{}, NVArchives: []ArchiveEntry{}}

	imgs, err := nonEmpty(filepath.Join(dir, PartsDir), ".img")
	if err != nil {
		return m, err
	}
	for _, f := range imgs {
		m.Partitions = append(m.Partitions, PartitionEntry{
			Name: strings.TrimSuffix(f.name, ".img"),
			File: PartsDir + "/" + f.name,
			Size: f.size,
		})
	}

	archives, err := nonEmpty(filepath.Join(dir, NVDir), ".tar.gz")
	if err != nil {
		return m, err
	}
	for _, f := range archives {
		m.NVArchives = append(m.NVArchives, ArchiveEntry{File: NVDir + "/" + f.name, Size: f.size})
	}
	return m, nil
}

type sizedFile struct {
	name string
	size int64
}

func nonEmpty(dir, suffix string) ([]sizedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []sizedFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		if info.Size() > 0 {
			out = append(out, sizedFile{name: e.Name(), size: info.Size()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), append(data, '\n'), 0o600)
}

// ReadManifest loads manifest.json from a bundle directory.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile)) //nolint:gosec // bundle path
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decoding %s: %w", ManifestFile, err)
	}
	return m, nil
}

// HashFile returns the hex SHA-256 of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // bundle path
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// bundleFiles returns every regular file under dir except SHA256SUMS as
// slash-separated relative paths, sorted.
func bundleFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel != SumsFile {
			files = append(files, rel)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// writeChecksums hashes every bundle file into SHA256SUMS using the
// sha256sum line format "<hex>  <path>".
func writeChecksums(dir string) error {
	files, err := bundleFiles(dir)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, rel := range files {
		sum, err := HashFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return fmt.Errorf("hashing %s: %w", rel, err)
		}
		fmt.Fprintf(&b, "%s  %s\n", sum, rel)
	}
	return os.WriteFile(filepath.Join(dir, SumsFile), []byte(b.String()), 0o600)
}

// ReadChecksums parses SHA256SUMS into path -> hex digest, preserving order.
func ReadChecksums(dir string) ([]string, map[string]string, error) {
	f, err := os.Open(filepath.Join(dir, SumsFile)) //nolint:gosec // bundle path
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var order []string
	sums := map[string]string{}
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if line == "" {
			continue
		}
		sum, rel, ok := strings.Cut(line, "  ")
		if !ok || len(sum) != sha256.Size*2 {
			return nil, nil, fmt.Errorf("%s:%d: malformed line", SumsFile, n)
		}
		order = append(order, rel)
		sums[rel] = sum
	}
	return order, sums, sc.Err()
}
