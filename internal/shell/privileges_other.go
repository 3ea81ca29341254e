//go:build !unix

package shell

import (
	"os"
	"os/exec"
)

func currentIDs() Privileges {
	return Privileges{EUID: os.Geteuid(), UserUID: os.Getuid(), UserGID: os.Getgid()}
}

func dropCredentials(*exec.Cmd, Privileges) {}
