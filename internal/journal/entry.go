// Package journal records the side effects of one phase (install or start)
// of one component so they can later be reversed without re-deriving them.
//
// A journal is a line-oriented, append-only file. Each line has the form
//
//	KIND - PAYLOAD
//
// where PAYLOAD is a plain path or, for structured kinds, a JSON object.
package journal

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies what a journal entry records.
type Kind string

const (
	DirMade      Kind = "DIR_MADE"
	FileTouched  Kind = "FILE_TOUCHED"
	CfgWritten   Kind = "CFG_WRITTEN"
	SymlinkMade  Kind = "SYMLINK_MADE"
	PkgInstalled Kind = "PKG_INSTALLED"
	PipInstalled Kind = "PIP_INSTALLED"
	PyInstalled  Kind = "PY_INSTALLED"
	Downloaded   Kind = "DOWNLOADED"
	AppStarted   Kind = "APP_STARTED"
	Version      Kind = "VERSION"
)

// FormatVersion is written as the first entry of every new journal.
const FormatVersion = "1"

const separator = " - "

var knownKinds = map[Kind]bool{
	DirMade: true, FileTouched: true, CfgWritten: true, SymlinkMade: true,
	PkgInstalled: true, PipInstalled: true, PyInstalled: true,
	Downloaded: true, AppStarted: true, Version: true,
}

// Valid reports whether k is one of the known entry kinds.
func (k Kind) Valid() bool { return knownKinds[k] }

// Entry is a single journal line.
type Entry struct {
	Kind    Kind
	Payload string
}

// String renders the entry in its on-disk form (without the newline).
func (e Entry) String() string {
	return string(e.Kind) + separator + e.Payload
}

// ParseLine parses one journal line.
func ParseLine(line string) (Entry, error) {
	kind, payload, ok := strings.Cut(line, separator)
	if !ok {
		return Entry{}, fmt.Errorf("malformed journal line %q", line)
	}
	k := Kind(strings.TrimSpace(kind))
	if !k.Valid() {
		return Entry{}, fmt.Errorf("unknown journal entry kind %q", kind)
	}
	return Entry{Kind: k, Payload: payload}, nil
}

// PackageRecord is the payload of PKG_INSTALLED and PIP_INSTALLED entries.
type PackageRecord struct {
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
	Packager string `json:"packager,omitempty"`
	// Removable is false when the package must survive uninstall.
	Removable bool `json:"removable"`
}

// PyRecord is the payload of PY_INSTALLED entries: a python project
// installed in develop mode from a source checkout.
type PyRecord struct {
	Name  string `json:"name"`
	Where string `json:"where"`
}

// DownloadRecord is the payload of DOWNLOADED entries.
type DownloadRecord struct {
	URI    string `json:"uri"`
	Target string `json:"target"`
	Ref    string `json:"ref,omitempty"`
}

// AppRecord is the payload of APP_STARTED entries.
type AppRecord struct {
	Name      string `json:"name"`
	How       string `json:"how"`
	Subsystem string `json:"subsystem,omitempty"`
}

func decode[T any](e Entry) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(e.Payload), &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return v, nil
}
