package sampler

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-zglob"
	"github.com/pkg/errors"
)

// markerPrefixes start lines that carry no ids: comments, headers and file
// path banners written by other tools.
var markerPrefixes = []string{"#", "-", "/", "./", "file:"}

func isMarkerLine(line string) bool {
	for _, p := range markerPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// parseLine splits a line into an ordered chain. It returns nil for lines to skip.
func parseLine(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" || isMarkerLine(line) {
		return nil
	}
	return trimChain(strings.Split(line, ","))
}

// trimChain trims cells and cuts the chain at the first empty one.
func trimChain(cells []string) []string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if c == "" {
			break
		}
		out = append(out, c)
	}
	return out
}

// expandPattern turns a file, directory or glob into a sorted list of files.
func expandPattern(pattern string) ([]string, error) {
	info, err := os.Stat(pattern)
	if err == nil {
		if !info.IsDir() {
			return []string{pattern}, nil
		}
		entries, err := os.ReadDir(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "reading id directory %s", pattern)
		}
		var files []string
		for _, e := range entries {
			if e.Type().IsRegular() {
				files = append(files, filepath.Join(pattern, e.Name()))
			}
		}
		if len(files) == 0 {
			return nil, errors.Errorf("no id files in %s", pattern)
		}
		return files, nil
	}

	matches, err := zglob.Glob(pattern)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(err, "expanding %s", pattern)
	}
	if len(matches) == 0 {
		return nil, errors.Errorf("no id files match %s", pattern)
	}
	sort.Strings(matches)
	return matches, nil
}

// readIdFile feeds every id chain in path to fn until fn returns false.
func readIdFile(path string, fn func(cells []string) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening id file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		cells := parseLine(scanner.Text())
		if len(cells) == 0 {
			continue
		}
		if !fn(cells) {
			return nil
		}
	}
	return errors.Wrapf(scanner.Err(), "reading %s", path)
}
