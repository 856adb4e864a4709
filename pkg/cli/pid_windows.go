//go:build windows

package cli

// PIDFile is a no-op on windows, where flock is unavailable.
type PIDFile struct{}

func NewPIDFile(string) (*PIDFile, error) {
	return &PIDFile{}, nil
}

func (p *PIDFile) Acquire() error { return nil }

func (p *PIDFile) Release() error { return nil }
