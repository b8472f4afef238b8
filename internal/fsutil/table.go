package fsutil

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ScanRows calls fn for every non-empty, non-comment line of a text file,
// split on tabs (or runs of whitespace when the line has no tab).
func ScanRows(path string, fn func(lineNo int, fields []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var fields []string
		if strings.Contains(line, "\t") {
			fields = strings.Split(line, "\t")
			for i := range fields {
				fields[i] = strings.TrimSpace(fields[i])
			}
		} else {
			fields = strings.Fields(line)
		}
		if err := fn(lineNo, fields); err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// CountRows returns the number of data rows in a text file.
func CountRows(path string) (int, error) {
	n := 0
	err := ScanRows(path, func(int, []string) error {
		n++
		return nil
	})
	return n, err
}

// DistinctColumn returns the distinct values of column col in first-seen
// order. Rows that are too short are an error.
func DistinctColumn(path string, col int) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	err := ScanRows(path, func(_ int, fields []string) error {
		if col >= len(fields) {
			return fmt.Errorf("expected at least %d columns, got %d", col+1, len(fields))
		}
		v := fields[col]
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}
