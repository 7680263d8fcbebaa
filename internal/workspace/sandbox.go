package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// PathEscapeError is returned when a path operation would escape the
// workspace sandbox.
type PathEscapeError struct {
	Path string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path %q escapes workspace sandbox", e.Path)
}

// QuotaExceededError is returned when a write would exceed a workspace
// quota.
type QuotaExceededError struct {
	UserID string
	Reason string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("workspace quota exceeded for user %q: %s", e.UserID, e.Reason)
}

// Sandbox is a per-user filesystem backend. All operations resolve
// relative to the user's workspace root and fail with *PathEscapeError
// when the resolved target leaves it.
type Sandbox struct {
	manager    *Manager
	userID     string
	checkQuota bool
}

// NewSandbox creates a sandbox for a user, creating the workspace
// directory if needed. Quota checks may be disabled for trusted callers.
func NewSandbox(manager *Manager, userID string, checkQuota bool) (*Sandbox, error) {
	if _, err := manager.Create(userID); err != nil {
		return nil, err
	}
	return &Sandbox{manager: manager, userID: userID, checkQuota: checkQuota}, nil
}

// UserID returns the owning user id.
func (s *Sandbox) UserID() string { return s.userID }

// Root returns the workspace root directory.
func (s *Sandbox) Root() string { return s.manager.WorkspacePath(s.userID) }

func (s *Sandbox) resolve(path string) (string, error) {
	return s.manager.ResolvePath(s.userID, path)
}

// ResolvePath resolves a path to its absolute location inside the
// workspace, failing with *PathEscapeError when it leaves the sandbox.
func (s *Sandbox) ResolvePath(path string) (string, error) {
	return s.resolve(path)
}

func (s *Sandbox) checkWriteQuota(size int64) error {
	if !s.checkQuota {
		return nil
	}

	quota := s.manager.GetQuota(s.userID)
	if size > quota.MaxFileSizeBytes {
		return &QuotaExceededError{UserID: s.userID, Reason: "file exceeds max file size"}
	}

	ok, err := s.manager.CheckQuota(s.userID, size)
	if err != nil {
		return err
	}
	if !ok {
		return &QuotaExceededError{UserID: s.userID, Reason: "write would exceed workspace quota"}
	}
	return nil
}

// ReadFile reads a file as text.
func (s *Sandbox) ReadFile(path string) (string, error) {
	data, err := s.ReadFileBytes(path)
	return string(data), err
}

// ReadFileBytes reads a file as bytes.
func (s *Sandbox) ReadFileBytes(path string) ([]byte, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(resolved)
}

// WriteFile writes text content, creating parent directories as needed.
// Returns the resolved absolute path.
func (s *Sandbox) WriteFile(path, content string) (string, error) {
	return s.WriteFileBytes(path, []byte(content))
}

// WriteFileBytes writes bytes, creating parent directories as needed.
func (s *Sandbox) WriteFileBytes(path string, content []byte) (string, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	if err := s.checkWriteQuota(int64(len(content))); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(resolved, content, 0o644); err != nil {
		return "", err
	}
	return resolved, nil
}

// DeleteFile removes a file. Returns false if the file did not exist.
func (s *Sandbox) DeleteFile(path string) (bool, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return false, err
	}

	fi, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if fi.IsDir() {
		return false, fmt.Errorf("cannot delete directory with DeleteFile: %s", path)
	}

	if err := os.Remove(resolved); err != nil {
		return false, err
	}
	return true, nil
}

// Exists reports whether the path exists. Escaping paths return false
// rather than an error.
func (s *Sandbox) Exists(path string) bool {
	resolved, err := s.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(resolved)
	return err == nil
}

// IsFile reports whether the path is a regular file.
func (s *Sandbox) IsFile(path string) bool {
	resolved, err := s.resolve(path)
	if err != nil {
		return false
	}
	fi, err := os.Stat(resolved)
	return err == nil && fi.Mode().IsRegular()
}

// IsDir reports whether the path is a directory.
func (s *Sandbox) IsDir(path string) bool {
	resolved, err := s.resolve(path)
	if err != nil {
		return false
	}
	fi, err := os.Stat(resolved)
	return err == nil && fi.IsDir()
}

// ListDir returns the entry names of a directory.
func (s *Sandbox) ListDir(path string) ([]string, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// Mkdir creates a directory. With parents, intermediate directories are
// created too.
func (s *Sandbox) Mkdir(path string, parents bool) (string, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	if parents {
		err = os.MkdirAll(resolved, 0o755)
	} else {
		err = os.Mkdir(resolved, 0o755)
	}
	if err != nil && !os.IsExist(err) {
		return "", err
	}
	return resolved, nil
}

// Rmdir removes a directory. Non-recursive removal fails on non-empty
// directories. Returns false if the directory did not exist.
func (s *Sandbox) Rmdir(path string, recursive bool) (bool, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return false, err
	}

	fi, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if !fi.IsDir() {
		return false, fmt.Errorf("not a directory: %s", path)
	}

	if recursive {
		err = os.RemoveAll(resolved)
	} else {
		err = os.Remove(resolved)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RelativePath returns absolutePath relative to the workspace root.
func (s *Sandbox) RelativePath(absolutePath string) (string, error) {
	rel, err := filepath.Rel(s.Root(), absolutePath)
	if err != nil {
		return "", err
	}
	return rel, nil
}
