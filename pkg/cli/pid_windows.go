//go:build windows

package cli

// PIDFile does no locking on windows.
type PIDFile struct{}

func NewPIDFile(path string) (*PIDFile, error) {
	return &PIDFile{}, nil
}

func (p *PIDFile) Acquire() error {
	return nil
}

func (p *PIDFile) Release() error {
	return nil
}
