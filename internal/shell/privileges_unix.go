//go:build unix

package shell

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func currentIDs() Privileges {
	return Privileges{
		EUID:    unix.Geteuid(),
		UserUID: unix.Getuid(),
		UserGID: unix.Getgid(),
	}
}

// dropCredentials makes cmd run as the invoking user when the process is root.
func dropCredentials(cmd *exec.Cmd, p Privileges) {
	if !p.Drops() {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uint32(p.UserUID), Gid: uint32(p.UserGID)},
	}
}
