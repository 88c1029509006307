package utils

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
)

// ReadModules reads every boot module file, reporting all unreadable ones
// at once.
func ReadModules(paths []string) ([][]byte, error) {
	var result *multierror.Error

	modules := make([][]byte, 0, len(paths))

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		slog.Debug("Read module", "path", p, "size", humanize.IBytes(uint64(len(data))))
		modules = append(modules, data)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("reading modules: %w", err)
	}

	return modules, nil
}

// ModuleStrings returns the multiboot module strings: the file name followed
// by its arguments. The kernel gets cmdline, the other modules none.
func ModuleStrings(paths []string, cmdline string) []string {
	strs := make([]string, len(paths))

	for i, p := range paths {
		strs[i] = filepath.Base(p)
		if i == 0 && cmdline != "" {
			strs[i] = strings.Join([]string{strs[i], cmdline}, " ")
		}
	}

	return strs
}
