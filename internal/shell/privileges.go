package shell

import (
	"os"
	"strconv"
)

// Privileges describes who anvil runs as and whom it drops to. When started
// through sudo the process is root and commands run as SUDO_UID/SUDO_GID
// unless they explicitly ask for root.
type Privileges struct {
	EUID    int
	UserUID int
	UserGID int
}

// IsRoot reports whether the process holds root privileges.
func (p Privileges) IsRoot() bool { return p.EUID == 0 }

// Drops reports whether non-root work should run under a different identity.
func (p Privileges) Drops() bool { return p.IsRoot() && p.UserUID != 0 }

// DetectPrivileges inspects the current process.
func DetectPrivileges() Privileges {
	p := currentIDs()
	if !p.IsRoot() {
		return p
	}
	if uid, err := strconv.Atoi(os.Getenv("SUDO_UID")); err == nil {
		p.UserUID = uid
	}
	if gid, err := strconv.Atoi(os.Getenv("SUDO_GID")); err == nil {
		p.UserGID = gid
	}
	return p
}
