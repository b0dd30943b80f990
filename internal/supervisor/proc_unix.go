//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcess puts the daemon in its own process group so signals
// reach everything it spawns.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// interrupt sends SIGINT to the daemon's process group.
func interrupt(pid int) error {
	return unix.Kill(-pid, unix.SIGINT)
}

// forceKill sends SIGKILL to the daemon's process group.
func forceKill(pid int) error {
	return unix.Kill(-pid, unix.SIGKILL)
}

// sweepGroup kills whatever is left in the group after the leader exited.
func sweepGroup(pid int) {
	_ = unix.Kill(-pid, unix.SIGKILL)
}
