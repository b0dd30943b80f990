//go:build windows

package supervisor

import (
	"errors"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

// configureProcess starts the daemon in a new process group so it can be
// sent CTRL_BREAK without hitting the launcher.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// interrupt sends CTRL_BREAK to the group and asks taskkill to remove the
// whole tree: console signals do not reach the daemon's own children.
func interrupt(pid int) error {
	breakErr := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid))
	return errors.Join(breakErr, taskkill(pid))
}

func forceKill(pid int) error {
	return taskkill(pid)
}

func taskkill(pid int) error {
	return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}

// sweepGroup is a no-op: taskkill /T already removed the tree.
func sweepGroup(int) {}
