// Package node writes arbitration results to hardware tunables exposed as
// files (sysfs, devfreq, procfs).
package node

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
)

// Writer writes one value to one node path.
type Writer interface {
	Write(path, value string) error
}

// FileWriter writes node values with os.WriteFile semantics. When Root is
// set every path is resolved under it and missing files are created, which
// lets the daemon run against a scratch tree instead of real hardware.
type FileWriter struct {
	Root string
}

func (w FileWriter) Write(path, value string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("node path is required")
	}
	target := path
	flags := os.O_WRONLY | os.O_TRUNC
	if w.Root != "" {
		target = filepath.Join(w.Root, filepath.Clean("/"+path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create node dir for %s: %w", target, err)
		}
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(target, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open node %s: %w", target, err)
	}
	if _, err := f.WriteString(value); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %q to node %s: %w", value, target, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close node %s: %w", target, err)
	}
	return nil
}

// DryRunWriter only logs the writes it would perform.
type DryRunWriter struct {
	Logger logr.Logger
}

func (w DryRunWriter) Write(path, value string) error {
	w.Logger.V(1).Info("dry-run node write", "path", path, "value", value)
	return nil
}
