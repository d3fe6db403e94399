// Package backup archives the fallback data directory so a corrupted
// local store can be rolled back to a known-good state.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const metadataFile = "backup_metadata.json"

// Info describes one archive.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

type metadata struct {
	Backups      []Info `json:"backups"`
	LastBackup   *Info  `json:"last_backup,omitempty"`
	TotalBackups int    `json:"total_backups"`
}

// Config bounds the retention policy.
type Config struct {
	MaxBackups int
	MaxAge     time.Duration
}

// Manager creates, lists, restores, and prunes archives of a single data
// directory.
type Manager struct {
	dataDir    string
	backupsDir string
	config     Config

	mu   sync.Mutex
	meta metadata
	now  func() time.Time
}

// New creates a manager archiving dataDir into backupsDir.
func New(dataDir, backupsDir string, config Config) (*Manager, error) {
	if err := os.MkdirAll(backupsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backups directory: %w", err)
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = 10
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 30 * 24 * time.Hour
	}

	m := &Manager{
		dataDir:    dataDir,
		backupsDir: backupsDir,
		config:     config,
		now:        time.Now,
	}
	m.loadMetadata()
	return m, nil
}

func (m *Manager) loadMetadata() {
	data, err := os.ReadFile(filepath.Join(m.backupsDir, metadataFile))
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &m.meta); err != nil {
		slog.Error("Failed to load backup metadata", "error", err)
	}
}

// saveMetadata writes the ledger atomically. Caller holds m.mu.
func (m *Manager) saveMetadata() {
	path := filepath.Join(m.backupsDir, metadataFile)
	data, err := json.MarshalIndent(m.meta, "", "  ")
	if err != nil {
		slog.Error("Failed to encode backup metadata", "error", err)
		return
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Error("Failed to write backup metadata", "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		slog.Error("Failed to replace backup metadata", "error", err)
	}
}

// Create archives the data directory, records it in the ledger, and
// applies the retention policy.
func (m *Manager) Create(name string) (Info, error) {
	now := m.now()
	if name == "" {
		name = "backup_" + now.Format("20060102_150405")
	}
	id := fmt.Sprintf("%s_%d", name, now.UnixNano())

	// The file carries the unique id so same-named backups never share an
	// archive.
	path := filepath.Join(m.backupsDir, id+".tar.gz")
	if err := m.writeArchive(path); err != nil {
		os.Remove(path)
		return Info{}, fmt.Errorf("creating backup %s: %w", name, err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("creating backup %s: %w", name, err)
	}

	info := Info{
		ID:        id,
		Name:      name,
		Path:      path,
		Size:      stat.Size(),
		Timestamp: now.UTC(),
	}

	m.mu.Lock()
	m.meta.Backups = append(m.meta.Backups, info)
	m.meta.LastBackup = &info
	m.meta.TotalBackups = len(m.meta.Backups)
	m.saveMetadata()
	m.mu.Unlock()

	m.applyRetention()

	slog.Info("Backup created", "name", name, "size", info.Size)
	return info, nil
}

func (m *Manager) writeArchive(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()

	tw := tar.NewWriter(gz)
	defer tw.Close()

	return filepath.Walk(m.dataDir, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(m.dataDir, file)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}

		src, err := os.Open(file)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
}

// List returns the ledger, dropping entries whose archive file vanished.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	valid := make([]Info, 0, len(m.meta.Backups))
	for _, b := range m.meta.Backups {
		if _, err := os.Stat(b.Path); err == nil {
			valid = append(valid, b)
		} else {
			slog.Warn("Backup file missing, dropping from ledger", "path", b.Path)
		}
	}
	if len(valid) != len(m.meta.Backups) {
		m.meta.Backups = valid
		m.meta.TotalBackups = len(valid)
		m.saveMetadata()
	}

	out := make([]Info, len(valid))
	copy(out, valid)
	return out
}

// Restore replaces the data directory with the archive's contents. The
// previous data is moved aside first and restored if extraction fails.
func (m *Manager) Restore(id string) error {
	m.mu.Lock()
	var info *Info
	for i := range m.meta.Backups {
		if m.meta.Backups[i].ID == id {
			info = &m.meta.Backups[i]
			break
		}
	}
	m.mu.Unlock()

	if info == nil {
		return fmt.Errorf("backup not found: %s", id)
	}

	aside := m.dataDir + ".bak"
	os.RemoveAll(aside)
	if _, err := os.Stat(m.dataDir); err == nil {
		if err := os.Rename(m.dataDir, aside); err != nil {
			return fmt.Errorf("moving current data aside: %w", err)
		}
	}

	if err := m.extractArchive(info.Path); err != nil {
		os.RemoveAll(m.dataDir)
		if _, statErr := os.Stat(aside); statErr == nil {
			os.Rename(aside, m.dataDir)
		}
		return fmt.Errorf("restoring backup %s: %w", id, err)
	}

	os.RemoveAll(aside)
	slog.Info("Backup restored", "id", id)
	return nil
}

func (m *Manager) extractArchive(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		name := filepath.FromSlash(hdr.Name)
		if strings.Contains(name, "..") {
			return fmt.Errorf("archive entry escapes data directory: %s", hdr.Name)
		}
		target := filepath.Join(m.dataDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(dst, tr); err != nil {
				dst.Close()
				return err
			}
			dst.Close()
		}
	}
}

// Delete removes an archive and its ledger entry.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, b := range m.meta.Backups {
		if b.ID != id {
			continue
		}
		if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting backup %s: %w", id, err)
		}
		m.meta.Backups = append(m.meta.Backups[:i], m.meta.Backups[i+1:]...)
		m.meta.TotalBackups = len(m.meta.Backups)
		m.saveMetadata()
		slog.Info("Backup deleted", "id", id)
		return nil
	}
	return fmt.Errorf("backup not found: %s", id)
}

// applyRetention prunes backups beyond the count bound or older than the
// age bound, oldest first.
func (m *Manager) applyRetention() {
	m.mu.Lock()
	backups := make([]Info, len(m.meta.Backups))
	copy(backups, m.meta.Backups)
	m.mu.Unlock()

	sort.Slice(backups, func(a, b int) bool {
		return backups[a].Timestamp.Before(backups[b].Timestamp)
	})

	cutoff := m.now().Add(-m.config.MaxAge)
	var expired []string
	for i, b := range backups {
		if len(backups)-i > m.config.MaxBackups || b.Timestamp.Before(cutoff) {
			expired = append(expired, b.ID)
		}
	}

	for _, id := range expired {
		if err := m.Delete(id); err != nil {
			slog.Error("Failed to prune backup", "id", id, "error", err)
		}
	}
}
