// Package archive produces point-in-time backups of the game's data as
// .tar.gz files with a checksummed manifest, and prunes old ones.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   int                  `json:"version"`
	Server    string               `json:"server"`
	Timestamp string               `json:"timestamp"`
	MudName   string               `json:"mud_name"`
	Accounts  int                  `json:"accounts"`
	Files     map[string]FileEntry `json:"files"`
}

// FileEntry describes a single file within the archive.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Type   string `json:"type"` // "bolt", "sql", "conf"
}

// Params holds all inputs needed to create an archive.
type Params struct {
	StoreSnapshotFunc func(destPath string) error // Caller provides a consistent store snapshot
	AuditPath         string                      // Path to the audit SQLite database (empty = skip)
	ConfPath          string                      // Path to the game config file (empty = skip)
	ArchiveDir        string                      // Output directory for the archive
	MudName           string                      // Game name for the manifest
	AccountCount      int                         // Number of accounts for the manifest
}

// Create writes a .tar.gz archive of the game data and returns its path.
func Create(params Params) (string, error) {
	if err := os.MkdirAll(params.ArchiveDir, 0755); err != nil {
		return "", fmt.Errorf("archive: create dir %s: %w", params.ArchiveDir, err)
	}

	filename := fmt.Sprintf("backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	archivePath := filepath.Join(params.ArchiveDir, filename)

	tmpDir, err := os.MkdirTemp("", "duskhaven-backup-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	manifest := Manifest{
		Version:   1,
		Server:    "Duskhaven",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MudName:   params.MudName,
		Accounts:  params.AccountCount,
		Files:     make(map[string]FileEntry),
	}

	// Snapshot the store into the staging dir so the live file is never
	// copied mid-write.
	var storeStaged string
	if params.StoreSnapshotFunc != nil {
		storeStaged = filepath.Join(tmpDir, "game.db")
		if err := params.StoreSnapshotFunc(storeStaged); err != nil {
			return "", fmt.Errorf("archive: store snapshot: %w", err)
		}
	}

	outFile, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", archivePath, err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	if storeStaged != "" {
		entry, err := addFileToTar(tw, storeStaged, "data/game.db")
		if err != nil {
			return "", err
		}
		entry.Type = "bolt"
		manifest.Files["data/game.db"] = entry
	}

	if params.AuditPath != "" {
		if _, err := os.Stat(params.AuditPath); err == nil {
			entry, err := addFileToTar(tw, params.AuditPath, "data/audit.db")
			if err != nil {
				return "", err
			}
			entry.Type = "sql"
			manifest.Files["data/audit.db"] = entry
		}
	}

	if params.ConfPath != "" {
		if _, err := os.Stat(params.ConfPath); err == nil {
			archName := "conf/" + filepath.Base(params.ConfPath)
			entry, err := addFileToTar(tw, params.ConfPath, archName)
			if err != nil {
				return "", err
			}
			entry.Type = "conf"
			manifest.Files[archName] = entry
		}
	}

	// The manifest goes in last so it covers everything above.
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: marshal manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    "manifest.json",
		Size:    int64(len(manifestJSON)),
		Mode:    0644,
		ModTime: time.Now(),
	}); err != nil {
		return "", fmt.Errorf("archive: write manifest header: %w", err)
	}
	if _, err := tw.Write(manifestJSON); err != nil {
		return "", fmt.Errorf("archive: write manifest: %w", err)
	}

	return archivePath, nil
}

// Prune deletes the oldest backups in dir until at most keep remain.
// keep <= 0 disables pruning.
func Prune(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("archive: read dir %s: %w", dir, err)
	}
	var backups []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, "backup-") && strings.HasSuffix(name, ".tar.gz") {
			backups = append(backups, name)
		}
	}
	// The timestamp in the name sorts chronologically.
	sort.Strings(backups)
	for len(backups) > keep {
		if err := os.Remove(filepath.Join(dir, backups[0])); err != nil {
			return fmt.Errorf("archive: prune %s: %w", backups[0], err)
		}
		backups = backups[1:]
	}
	return nil
}

// addFileToTar adds a single file to the tar archive with the given
// archive name, computing its SHA-256 while writing.
func addFileToTar(tw *tar.Writer, srcPath, archName string) (FileEntry, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: open %s: %w", srcPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: stat %s: %w", srcPath, err)
	}

	archName = strings.ReplaceAll(archName, "\\", "/")

	if err := tw.WriteHeader(&tar.Header{
		Name:    archName,
		Size:    info.Size(),
		Mode:    0644,
		ModTime: info.ModTime(),
	}); err != nil {
		return FileEntry{}, fmt.Errorf("archive: header %s: %w", archName, err)
	}

	h := sha256.New()
	written, err := io.Copy(tw, io.TeeReader(f, h))
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: write %s: %w", archName, err)
	}

	return FileEntry{
		SHA256: hex.EncodeToString(h.Sum(nil)),
		Size:   written,
	}, nil
}
