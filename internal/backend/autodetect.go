package backend

import (
	"os"
	"os/exec"
	"runtime"
)

// DetectShell finds the default shell for sessions that don't name a command.
// Order of preference on Unix: $SHELL, /bin/bash, /bin/zsh, /bin/sh.
// On Windows: powershell.exe, then cmd.exe.
func DetectShell() (string, error) {
	if runtime.GOOS == "windows" {
		for _, candidate := range []string{"powershell.exe", "cmd.exe"} {
			if path, err := exec.LookPath(candidate); err == nil {
				return path, nil
			}
		}
		return "", ErrShellNotFound
	}

	if shell := os.Getenv("SHELL"); shell != "" && isExecutable(shell) {
		return shell, nil
	}

	for _, candidate := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	return "", ErrShellNotFound
}

// isExecutable checks if a file exists and is executable.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	mode := info.Mode()
	return mode.IsRegular() && mode&0111 != 0
}
