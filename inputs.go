package featex

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/featex/batch"
)

// ReadFilterFiles reads files of example indexes, one
// per line, and returns the union of all of them.
// Blank lines are ignored.
//
// With no paths, the result is nil, meaning "no filter".
func ReadFilterFiles(paths ...string) (map[int]bool, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	res := map[int]bool{}
	for _, path := range paths {
		if err := readFilterFile(path, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func readFilterFile(path string, res map[int]bool) error {
	f, err := os.Open(path)
	if err != nil {
		return essentials.AddCtx("read filter indexes", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idx, err := strconv.Atoi(line)
		if err != nil {
			return fmt.Errorf("read filter indexes: %s:%d: bad index %q", path, lineNum, line)
		}
		res[idx] = true
	}
	return essentials.AddCtx("read filter indexes", scanner.Err())
}

// ResolveInputs lists the input files of a directory in
// name order.
//
// If filter is non-nil, only files whose example index is
// in filter are kept; every file name must then parse as an
// index.
// Subdirectories and hidden files are skipped.
func ResolveInputs(dir string, filter map[int]bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, essentials.AddCtx("list inputs", err)
	}
	var res []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if filter != nil {
			idx, err := batch.ParseIndex(name)
			if err != nil {
				return nil, err
			}
			if !filter[idx] {
				continue
			}
		}
		res = append(res, filepath.Join(dir, name))
	}
	return res, nil
}

// ExpectedBatches computes the number of batches needed
// for n examples.
func ExpectedBatches(n, batchSize int) int {
	return batch.NumBatches(n, batchSize)
}
