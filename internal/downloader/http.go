package downloader

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/atomikpanda/anvil/internal/logging"
	"github.com/atomikpanda/anvil/internal/shell"
)

// HTTP downloads archives and unpacks them into the target directory. A
// single top-level directory shared by every archive entry is stripped.
type HTTP struct {
	exec   *shell.Executor
	client *http.Client
	logger zerolog.Logger
}

// NewHTTP returns an HTTP downloader.
func NewHTTP(exec *shell.Executor) *HTTP {
	return &HTTP{
		exec:   exec,
		client: &http.Client{Timeout: 10 * time.Minute},
		logger: logging.For("downloader"),
	}
}

// Download fetches uri and unpacks it into target. For archives, ref pins
// the expected sha256 of the download (hex, optionally prefixed "sha256:").
// Files that are neither .tar.gz/.tgz nor .zip are copied in as is.
func (h *HTTP) Download(ctx context.Context, uri, target, ref string, record shell.DirRecorder) ([]string, error) {
	dirs, err := h.exec.Mkdirslist(target, record)
	if err != nil {
		return nil, err
	}
	if h.exec.DryRun {
		h.logger.Info().Str("uri", uri).Str("target", target).Msg("[dry-run] download")
		return dirs, nil
	}

	tmp, err := os.CreateTemp("", "anvil-download-*")
	if err != nil {
		return dirs, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	h.logger.Info().Str("uri", uri).Str("target", target).Msg("Downloading")
	sum, err := h.fetch(ctx, uri, tmp)
	tmp.Close()
	if err != nil {
		return dirs, fmt.Errorf("download %s: %w", uri, err)
	}
	if want := strings.TrimPrefix(strings.ToLower(ref), "sha256:"); want != "" && want != sum {
		return dirs, fmt.Errorf("checksum mismatch for %s (expected %s, got %s)", uri, want, sum)
	}

	u, _ := url.Parse(uri)
	name := path.Base(u.Path)
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
		err = extractTarGz(tmpPath, target)
	case strings.HasSuffix(lower, ".zip"):
		err = extractZip(tmpPath, target)
	default:
		err = copyFile(tmpPath, filepath.Join(target, name))
	}
	if err != nil {
		return dirs, fmt.Errorf("unpack %s: %w", name, err)
	}

	if p := h.exec.Privileges; p.Drops() {
		if err := h.exec.ChownR(target, p.UserUID, p.UserGID); err != nil {
			return dirs, err
		}
	}
	return dirs, nil
}

func (h *HTTP) fetch(ctx context.Context, uri string, dst io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "anvil/1")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(dst, hash), resp.Body); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func extractTarGz(archivePath, target string) error {
	entries, err := walkTarGz(archivePath, func(*tar.Header, io.Reader) error { return nil })
	if err != nil {
		return err
	}
	strip := commonRoot(entries)
	_, err = walkTarGz(archivePath, func(hdr *tar.Header, r io.Reader) error {
		dest, ok, err := destination(target, hdr.Name, strip)
		if err != nil || !ok {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			return os.MkdirAll(dest, 0o755)
		case tar.TypeReg:
			return writeFile(dest, r, os.FileMode(hdr.Mode).Perm())
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) || !within(target, filepath.Join(filepath.Dir(dest), hdr.Linkname)) {
				return fmt.Errorf("symlink %s escapes target", hdr.Name)
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			return os.Symlink(hdr.Linkname, dest)
		}
		return nil
	})
	return err
}

type entry struct {
	name string
	dir  bool
}

func walkTarGz(archivePath string, fn func(*tar.Header, io.Reader) error) ([]entry, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	var entries []entry
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		entries = append(entries, entry{name: hdr.Name, dir: hdr.Typeflag == tar.TypeDir})
		if err := fn(hdr, tr); err != nil {
			return nil, err
		}
	}
}

func extractZip(archivePath, target string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	entries := make([]entry, 0, len(zr.File))
	for _, f := range zr.File {
		entries = append(entries, entry{name: f.Name, dir: f.FileInfo().IsDir()})
	}
	strip := commonRoot(entries)
	for _, f := range zr.File {
		dest, ok, err := destination(target, f.Name, strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFile(dest, rc, f.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// commonRoot returns the top-level directory every entry lives under, or ""
// when there is none.
func commonRoot(entries []entry) string {
	root := ""
	for _, e := range entries {
		n := cleanName(e.name)
		if n == "" {
			continue
		}
		first, _, nested := strings.Cut(n, "/")
		if !nested && !e.dir {
			return ""
		}
		if root == "" {
			root = first
		} else if first != root {
			return ""
		}
	}
	return root
}

func cleanName(name string) string {
	return strings.Trim(strings.TrimPrefix(name, "./"), "/")
}

// destination maps an archive entry to a path under target. ok is false for
// entries that map to target itself.
func destination(target, name, strip string) (string, bool, error) {
	rel := cleanName(name)
	if strip != "" {
		if rel == strip {
			return "", false, nil
		}
		rel = strings.TrimPrefix(rel, strip+"/")
	}
	if rel == "" {
		return "", false, nil
	}
	dest := filepath.Join(target, filepath.FromSlash(rel))
	if !within(target, dest) {
		return "", false, fmt.Errorf("archive entry %s escapes target", name)
	}
	return dest, true, nil
}

func within(dir, p string) bool {
	return strings.HasPrefix(filepath.Clean(p), filepath.Clean(dir)+string(os.PathSeparator))
}

func writeFile(dest string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeFile(dst, in, 0o644)
}
