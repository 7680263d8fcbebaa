// Package workspace provides per-user sandboxed filesystem roots with
// quotas. Every file operation is validated to resolve inside the owning
// user's workspace directory; path traversal and symlink escapes fail
// with a PathEscapeError.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dataagent-ai/dataagent/internal/logging"
)

// Quota is the resource budget for a user workspace.
type Quota struct {
	MaxSizeBytes     int64
	MaxFiles         int
	MaxFileSizeBytes int64
}

// DefaultQuota returns the default workspace quota.
func DefaultQuota() Quota {
	return Quota{
		MaxSizeBytes:     1 << 30,  // 1 GiB
		MaxFiles:         10000,
		MaxFileSizeBytes: 100 << 20, // 100 MiB
	}
}

// Info describes a user workspace. Size and file count are computed on
// demand by walking the directory.
type Info struct {
	UserID    string
	Path      string
	SizeBytes int64
	FileCount int
	Created   bool
}

// Manager owns the base directory under which all user workspaces live.
type Manager struct {
	basePath     string
	defaultQuota Quota

	mu         sync.Mutex
	userQuotas map[string]Quota
}

// NewManager creates a workspace manager rooted at basePath.
func NewManager(basePath string, defaultQuota *Quota) *Manager {
	q := DefaultQuota()
	if defaultQuota != nil {
		q = *defaultQuota
	}
	return &Manager{
		basePath:     basePath,
		defaultQuota: q,
		userQuotas:   make(map[string]Quota),
	}
}

// SanitizeUserID maps a user id to a filesystem-safe directory name.
// Path separators, "..", and anything outside [alphanumeric _ -] become
// underscores; an empty result maps to "anonymous".
func SanitizeUserID(userID string) string {
	s := strings.ReplaceAll(userID, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "..", "_")

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "anonymous"
	}
	return b.String()
}

// WorkspacePath returns the workspace directory for a user.
func (m *Manager) WorkspacePath(userID string) string {
	return filepath.Join(m.basePath, SanitizeUserID(userID))
}

// Create creates the workspace directory for a user. Idempotent.
func (m *Manager) Create(userID string) (Info, error) {
	path := m.WorkspacePath(userID)

	if _, err := os.Stat(path); err == nil {
		return m.Stat(userID)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return Info{}, fmt.Errorf("create workspace: %w", err)
	}
	logging.Info().Str("user", userID).Str("path", path).Msg("created workspace")

	return Info{UserID: userID, Path: path, Created: true}, nil
}

// Stat returns workspace info, computing current usage by walking the tree.
func (m *Manager) Stat(userID string) (Info, error) {
	path := m.WorkspacePath(userID)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Info{UserID: userID, Path: path}, nil
		}
		return Info{}, err
	}

	info := Info{UserID: userID, Path: path, Created: true}
	err := filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if fi.Mode().IsRegular() {
			info.SizeBytes += fi.Size()
			info.FileCount++
		}
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	return info, nil
}

// Delete removes a user's workspace recursively.
// Returns false if no workspace existed.
func (m *Manager) Delete(userID string) (bool, error) {
	path := m.WorkspacePath(userID)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	if err := os.RemoveAll(path); err != nil {
		return false, fmt.Errorf("delete workspace: %w", err)
	}
	logging.Info().Str("user", userID).Msg("deleted workspace")
	return true, nil
}

// resolveSymlinks resolves target through the deepest existing ancestor,
// so paths to not-yet-created files still validate against symlink tricks.
func resolveSymlinks(target string) (string, error) {
	existing := target
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{resolved}, rest...)...), nil
}

// ValidatePath reports whether path resolves inside the user's workspace
// after symlink and ".." resolution.
func (m *Manager) ValidatePath(userID string, path string) bool {
	root := m.WorkspacePath(userID)
	rootResolved, err := resolveSymlinks(root)
	if err != nil {
		rootResolved = filepath.Clean(root)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	target, err := resolveSymlinks(abs)
	if err != nil {
		return false
	}

	if target == rootResolved {
		return true
	}
	return strings.HasPrefix(target, rootResolved+string(filepath.Separator))
}

// ResolvePath resolves a path (relative to the workspace root, or
// absolute) to an absolute path inside the workspace.
func (m *Manager) ResolvePath(userID string, path string) (string, error) {
	root := m.WorkspacePath(userID)

	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}

	var target string
	if filepath.IsAbs(path) {
		target = filepath.Clean(path)
	} else {
		target = filepath.Join(root, path)
	}

	if !m.ValidatePath(userID, target) {
		return "", &PathEscapeError{Path: path}
	}
	return target, nil
}

// SetQuota overrides the quota for a single user.
func (m *Manager) SetQuota(userID string, quota Quota) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userQuotas[userID] = quota
}

// GetQuota returns the effective quota for a user.
func (m *Manager) GetQuota(userID string) Quota {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.userQuotas[userID]; ok {
		return q
	}
	return m.defaultQuota
}

// CheckQuota reports whether writing additionalBytes more would keep the
// user inside quota.
func (m *Manager) CheckQuota(userID string, additionalBytes int64) (bool, error) {
	info, err := m.Stat(userID)
	if err != nil {
		return false, err
	}
	quota := m.GetQuota(userID)

	if info.SizeBytes+additionalBytes > quota.MaxSizeBytes {
		return false, nil
	}
	if info.FileCount >= quota.MaxFiles {
		return false, nil
	}
	return true, nil
}

// CleanupOld removes workspaces whose mtime is older than maxAge.
// Returns the number of workspaces removed.
func (m *Manager) CleanupOld(maxAge time.Duration) int {
	entries, err := os.ReadDir(m.basePath)
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	cleaned := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().Before(cutoff) {
			dir := filepath.Join(m.basePath, entry.Name())
			if err := os.RemoveAll(dir); err != nil {
				logging.Warn().Err(err).Str("workspace", entry.Name()).Msg("failed to clean workspace")
				continue
			}
			cleaned++
			logging.Info().Str("workspace", entry.Name()).Msg("cleaned up old workspace")
		}
	}
	return cleaned
}
