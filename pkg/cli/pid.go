//go:build !windows

package cli

import (
	"fmt"
	"os"
	"syscall"

	"github.com/replicate/rget/pkg/logging"
)

// PIDFile is an exclusive lock on a destination, holding the pid of the owning process.
type PIDFile struct {
	file *os.File
	fd   int
}

func NewPIDFile(path string) (*PIDFile, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &PIDFile{file: file, fd: int(file.Fd())}, nil
}

// Acquire takes the lock without waiting. Two processes fetching to the same destination
// would corrupt each other's progress, so a held lock is an error.
func (p *PIDFile) Acquire() error {
	logger := logging.GetLogger()
	funcs := []func() error{
		func() error {
			logger.Debug().Str("path", p.file.Name()).Msg("Acquiring lock")
			if err := syscall.Flock(p.fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
				return fmt.Errorf("%s is locked, another rget process may be writing to the same destination: %w", p.file.Name(), err)
			}
			return nil
		},
		func() error { return p.file.Truncate(0) },
		p.writePID,
		p.file.Sync,
	}
	return p.executeFuncs(funcs)
}

func (p *PIDFile) Release() error {
	funcs := []func() error{
		func() error { return os.Remove(p.file.Name()) },
		func() error { return syscall.Flock(p.fd, syscall.LOCK_UN) },
		p.file.Close,
	}
	return p.executeFuncs(funcs)
}

func (p *PIDFile) writePID() error {
	pid := os.Getpid()
	_, err := p.file.WriteAt([]byte(fmt.Sprintf("%d", pid)), 0)
	return err
}

func (p *PIDFile) executeFuncs(funcs []func() error) error {
	for _, fn := range funcs {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
