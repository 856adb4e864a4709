//go:build !windows

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"syscall"

	"github.com/pgrab/pgrab/pkg/logging"
)

// PIDFile locks an output directory for the duration of a run, so two pgrab processes
// never write part files into the same directory at once. The file holds the PID of the
// process that owns the lock and is removed on release.
type PIDFile struct {
	path string
	file *os.File
}

func NewPIDFile(path string) (*PIDFile, error) {
	p := &PIDFile{path: path}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PIDFile) open() error {
	file, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("error opening lock file %s: %w", p.path, err)
	}
	p.file = file
	return nil
}

// Acquire takes the lock, waiting for a run that already holds it to finish.
func (p *PIDFile) Acquire() error {
	logger := logging.GetLogger()
	for {
		err := syscall.Flock(int(p.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if errors.Is(err, syscall.EWOULDBLOCK) {
			logger.Warn().
				Str("path", p.path).
				Str("holder_pid", p.holder()).
				Str("message", "Another pgrab process is writing to this output directory, use 'pgrab multifile' to download multiple files in one run").
				Msg("Waiting on Lock")
			err = syscall.Flock(int(p.file.Fd()), syscall.LOCK_EX)
		}
		if err != nil {
			return fmt.Errorf("error locking %s: %w", p.path, err)
		}
		linked, err := p.stillLinked()
		if err != nil {
			return fmt.Errorf("error locking %s: %w", p.path, err)
		}
		if linked {
			break
		}
		// the previous holder removed the file while we waited; lock the new one
		logger.Debug().Str("path", p.path).Msg("Lock file replaced, retrying")
		_ = p.file.Close()
		if err := p.open(); err != nil {
			return err
		}
	}
	return p.executeFuncs([]func() error{p.writePID, p.file.Sync})
}

func (p *PIDFile) Release() error {
	funcs := []func() error{
		// removed before unlocking, so a waiter that wins the lock notices and starts over
		func() error {
			if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		},
		func() error { return syscall.Flock(int(p.file.Fd()), syscall.LOCK_UN) },
		p.file.Close,
	}
	return p.executeFuncs(funcs)
}

// stillLinked reports whether the locked file is still the one at path.
func (p *PIDFile) stillLinked() (bool, error) {
	onDisk, err := os.Stat(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	held, err := p.file.Stat()
	if err != nil {
		return false, err
	}
	return os.SameFile(onDisk, held), nil
}

// holder returns the PID recorded by the current lock owner, for log messages.
func (p *PIDFile) holder() string {
	content, err := os.ReadFile(p.path)
	if err != nil || strings.TrimSpace(string(content)) == "" {
		return "unknown"
	}
	return strings.TrimSpace(string(content))
}

func (p *PIDFile) writePID() error {
	if err := p.file.Truncate(0); err != nil {
		return err
	}
	_, err := p.file.WriteAt([]byte(fmt.Sprintf("%d", os.Getpid())), 0)
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
