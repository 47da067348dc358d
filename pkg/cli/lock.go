package cli

import "github.com/replicate/rget/pkg/download"

// LockPath is the lock file guarding dest against concurrent rget processes.
func LockPath(dest string) string {
	return download.SidecarPath(dest) + ".lock"
}
