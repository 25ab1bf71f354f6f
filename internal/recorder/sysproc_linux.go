package recorder

import "syscall"

// sysProcAttr puts the capture tool in its own process group and kills it if we die.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
