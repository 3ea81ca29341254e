// Package downloader fetches component sources into the app directory. Git
// repositories are cloned through the shell; tarballs and zip files are
// fetched over HTTP and unpacked in process.
package downloader

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/atomikpanda/anvil/internal/shell"
)

// Downloader fetches uri into target and returns the directories it created,
// parents first. record is called with those directories before they exist.
type Downloader interface {
	Download(ctx context.Context, uri, target, ref string, record shell.DirRecorder) ([]string, error)
}

// Commands looks up command lines from the distro descriptor.
type Commands interface {
	CommandQuiet(keys ...string) []string
}

// Dispatcher picks a downloader from the URI.
type Dispatcher struct {
	git  *Git
	http *HTTP
}

// New returns a dispatcher backed by exec.
func New(exec *shell.Executor, cmds Commands) *Dispatcher {
	return &Dispatcher{git: NewGit(exec, cmds), http: NewHTTP(exec)}
}

// Download implements Downloader.
func (d *Dispatcher) Download(ctx context.Context, uri, target, ref string, record shell.DirRecorder) ([]string, error) {
	switch kind, err := Classify(uri); {
	case err != nil:
		return nil, err
	case kind == "git":
		return d.git.Download(ctx, strings.TrimPrefix(uri, "git+"), target, ref, record)
	default:
		return d.http.Download(ctx, uri, target, ref, record)
	}
}

// Classify reports whether uri is fetched with "git" or "http".
func Classify(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse source %q: %w", uri, err)
	}
	switch {
	case strings.HasPrefix(u.Scheme, "git"), u.Scheme == "ssh", u.Scheme == "file":
		return "git", nil
	case u.Scheme == "http" || u.Scheme == "https":
		if strings.HasSuffix(u.Path, ".git") {
			return "git", nil
		}
		return "http", nil
	}
	return "", fmt.Errorf("unsupported source %q", uri)
}
