package shell

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DirRecorder journals directories about to be created, parents first.
type DirRecorder func(dirs ...string) error

// PathRecorder journals a single path about to be created or written.
type PathRecorder func(path string) error

// Intent is recorded before the mutation happens. If the process dies in
// between, the journal names a path that may not exist, which removal
// tolerates; a path that exists is never missing from the journal.

// Mkdirslist creates path and any missing parents, returning the directories
// it created (parents first). Existing directories are not an error.
func (e *Executor) Mkdirslist(path string, record DirRecorder) ([]string, error) {
	var missing []string
	for p := filepath.Clean(path); ; {
		_, err := os.Stat(p)
		if err == nil {
			break
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		missing = append(missing, p)
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	if len(missing) == 0 {
		return nil, nil
	}
	for i, j := 0, len(missing)-1; i < j; i, j = i+1, j-1 {
		missing[i], missing[j] = missing[j], missing[i]
	}

	if record != nil {
		if err := record(missing...); err != nil {
			return nil, err
		}
	}
	if e.DryRun {
		e.logger.Debug().Strs("dirs", missing).Msg("[dry-run] mkdir")
		return missing, nil
	}
	for _, d := range missing {
		if err := os.Mkdir(d, 0o755); err != nil && !os.IsExist(err) {
			return missing, fmt.Errorf("create directory %s: %w", d, err)
		}
		e.giveToUser(d)
	}
	return missing, nil
}

// WriteFile writes data to path, replacing any previous content. The parent
// directory must already exist.
func (e *Executor) WriteFile(path string, data []byte, record PathRecorder) error {
	if record != nil {
		if err := record(path); err != nil {
			return err
		}
	}
	if e.DryRun {
		e.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("[dry-run] write file")
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	e.giveToUser(path)
	return nil
}

// Touch creates an empty file at path when none exists.
func (e *Executor) Touch(path string, record PathRecorder) error {
	if Exists(path) {
		return nil
	}
	if record != nil {
		if err := record(path); err != nil {
			return err
		}
	}
	if e.DryRun {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("touch %s: %w", path, err)
	}
	e.giveToUser(path)
	return f.Close()
}

// Symlink makes link point at source. An existing link to the same source is
// left alone; a link elsewhere is replaced; a regular file is an error.
func (e *Executor) Symlink(source, link string, record PathRecorder) error {
	if fi, err := os.Lstat(link); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("symlink %s: destination exists and is not a symlink", link)
		}
		if current, err := os.Readlink(link); err == nil && current == source {
			if record != nil {
				return record(link)
			}
			return nil
		}
		if !e.DryRun {
			if err := os.Remove(link); err != nil {
				return fmt.Errorf("remove stale symlink %s: %w", link, err)
			}
		}
	}
	if record != nil {
		if err := record(link); err != nil {
			return err
		}
	}
	if e.DryRun {
		e.logger.Debug().Str("link", link).Str("source", source).Msg("[dry-run] symlink")
		return nil
	}
	if err := os.Symlink(source, link); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", link, source, err)
	}
	return nil
}

// Unlink removes a file or symlink. A missing path is not an error.
func (e *Executor) Unlink(path string) error {
	if e.DryRun {
		e.logger.Debug().Str("path", path).Msg("[dry-run] unlink")
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink %s: %w", path, err)
	}
	return nil
}

// DelDir removes a directory tree. A missing directory is not an error.
func (e *Executor) DelDir(path string) error {
	if e.DryRun {
		e.logger.Debug().Str("path", path).Msg("[dry-run] remove directory")
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove directory %s: %w", path, err)
	}
	return nil
}

// RmDir removes path when it is an empty directory. Missing and non-empty
// directories are left alone.
func (e *Executor) RmDir(path string) error {
	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) || (err == nil && len(entries) > 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read directory %s: %w", path, err)
	}
	if e.DryRun {
		e.logger.Debug().Str("path", path).Msg("[dry-run] rmdir")
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove directory %s: %w", path, err)
	}
	return nil
}

// ChownR changes ownership of path and everything below it.
func (e *Executor) ChownR(path string, uid, gid int) error {
	if e.DryRun {
		return nil
	}
	return filepath.WalkDir(path, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := os.Lchown(p, uid, gid); err != nil {
			return fmt.Errorf("chown %s: %w", p, err)
		}
		return nil
	})
}

// Exists reports whether path exists (without following a final symlink).
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// giveToUser hands a path created by a root process back to the invoking user.
func (e *Executor) giveToUser(path string) {
	if e.rooted || !e.Privileges.Drops() {
		return
	}
	if err := os.Lchown(path, e.Privileges.UserUID, e.Privileges.UserGID); err != nil {
		e.logger.Warn().Err(err).Str("path", path).Msg("Failed to hand path to invoking user")
	}
}
