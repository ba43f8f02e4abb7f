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
	"strings"
)

// RestoreParams holds all inputs needed to restore a backup. The server
// must be stopped before restoring: the store and audit files are
// replaced in place.
type RestoreParams struct {
	ArchivePath string // Path to the .tar.gz backup
	StoreDest   string // Destination path for the game store (empty = skip)
	AuditDest   string // Destination path for the audit database (empty = skip)
	ConfDest    string // Destination path for the config file (empty = skip)
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	FilesRestored int
	Warnings      []string
}

// Restore extracts a backup, validates every checksum in its manifest,
// and copies the files to their destinations. A checksum mismatch aborts
// before anything is touched.
func Restore(params RestoreParams) (*RestoreResult, error) {
	result := &RestoreResult{}

	tmpDir, err := os.MkdirTemp("", "duskhaven-restore-*")
	if err != nil {
		return nil, fmt.Errorf("restore: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := extractArchive(params.ArchivePath, tmpDir); err != nil {
		return nil, fmt.Errorf("restore: extract: %w", err)
	}

	manifestPath := filepath.Join(tmpDir, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("restore: manifest.json not found in archive")
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("restore: parse manifest: %w", err)
	}

	for archName, entry := range manifest.Files {
		extractedPath := filepath.Join(tmpDir, filepath.FromSlash(archName))
		ok, err := validateChecksum(extractedPath, entry.SHA256)
		if err != nil {
			return nil, fmt.Errorf("restore: checksum %s: %w", archName, err)
		}
		if !ok {
			return nil, fmt.Errorf("restore: checksum mismatch for %s, archive may be corrupt", archName)
		}
	}

	restoreOne := func(archName, dest string) error {
		src := filepath.Join(tmpDir, filepath.FromSlash(archName))
		if _, err := os.Stat(src); err != nil || dest == "" {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("restore: create dir for %s: %w", dest, err)
		}
		if err := copyFile(src, dest); err != nil {
			return fmt.Errorf("restore: copy %s: %w", archName, err)
		}
		result.FilesRestored++
		return nil
	}

	if err := restoreOne("data/game.db", params.StoreDest); err != nil {
		return nil, err
	}
	if err := restoreOne("data/audit.db", params.AuditDest); err != nil {
		return nil, err
	}

	// The config is only restored when the destination does not already
	// exist; a live config always wins over an archived one.
	if params.ConfDest != "" {
		confSrc := filepath.Join(tmpDir, "conf", filepath.Base(params.ConfDest))
		if _, err := os.Stat(confSrc); err == nil {
			if _, err := os.Stat(params.ConfDest); os.IsNotExist(err) {
				if err := copyFile(confSrc, params.ConfDest); err != nil {
					return nil, fmt.Errorf("restore: copy conf: %w", err)
				}
				result.FilesRestored++
			} else {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("kept current config: %s", filepath.Base(params.ConfDest)))
			}
		}
	}

	return result, nil
}

// extractArchive extracts a .tar.gz to a destination directory.
func extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		// Sanitize paths to prevent directory traversal.
		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(filepath.Clean(target), filepath.Clean(destDir)) {
			return fmt.Errorf("invalid archive entry: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.Create(target)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
	return nil
}

// validateChecksum checks a file's SHA-256 against the expected hex string.
func validateChecksum(path, expected string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == expected, nil
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
