package tunnel

import (
	"os/exec"
	"syscall"
)

// setProcAttr puts the child in its own process group and has the kernel
// send it SIGTERM if the daemon dies without stopping it.
//
// Pdeathsig fires when the OS thread that forked the child exits, not the
// process. The Go runtime only retires a thread when a goroutine exits while
// locked to it, and nothing in this module calls runtime.LockOSThread.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
