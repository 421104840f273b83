package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/wazuh-cluster/pkg/clustererr"
)

// Build writes a zip container at destPath holding the manifest plus
// every file named by files (mapping the archive entry name to its
// on-disk source path). This is the container streamed over the
// new_file/file_chunk/close_file sub-protocol ahead of the sync_*_c_m
// or sync_m_c frame whose body names it.
func Build(destPath string, manifest *Manifest, files map[string]string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("archive: creating container: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	manifestJSON, err := manifestBytes(manifest)
	if err != nil {
		zw.Close()
		return err
	}
	if err := writeZipEntry(zw, ManifestName, manifestJSON); err != nil {
		zw.Close()
		return err
	}

	for entryName, srcPath := range files {
		data, err := os.ReadFile(srcPath)
		if err != nil {
			zw.Close()
			return fmt.Errorf("archive: reading %s: %w", srcPath, err)
		}
		if err := writeZipEntry(zw, entryName, data); err != nil {
			zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("archive: closing container: %w", err)
	}
	return nil
}

// Extract unpacks a container built by Build into destDir, returning
// its manifest. File entries are written relative to destDir,
// preserving their archive path.
func Extract(srcPath, destDir string) (*Manifest, error) {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return nil, fmt.Errorf("archive: opening container: %w", err)
	}
	defer r.Close()

	var manifest *Manifest
	for _, f := range r.File {
		data, err := readZipFile(f)
		if err != nil {
			return nil, err
		}

		if f.Name == ManifestName {
			manifest = &Manifest{}
			if err := unmarshalManifest(data, manifest); err != nil {
				return nil, err
			}
			continue
		}

		destPath, err := safeJoin(destDir, f.Name)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
			return nil, fmt.Errorf("archive: creating extract dir: %w", err)
		}
		if err := os.WriteFile(destPath, data, 0o640); err != nil {
			return nil, fmt.Errorf("archive: writing extracted file %s: %w", destPath, err)
		}
	}

	if manifest == nil {
		return nil, fmt.Errorf("%w", clustererr.ErrManifestMissing)
	}
	return manifest, nil
}

// safeJoin joins name onto root and rejects it unless the result stays
// inside root, guarding against a zip entry name like
// "../../../../etc/cron.d/evil" resolving outside the extraction
// directory (zip-slip).
func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(strings.TrimLeft(filepath.FromSlash(name), string(filepath.Separator)))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive: entry %q: %w", name, clustererr.ErrPathEscapesRoot)
	}
	return filepath.Join(root, cleaned), nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("archive: creating entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("archive: writing entry %s: %w", name, err)
	}
	return nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("archive: opening entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("archive: reading entry %s: %w", f.Name, err)
	}
	return data, nil
}
