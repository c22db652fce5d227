// Package loc counts lines of code per subdirectory of a source tree.
package loc

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// vcsDirs are version-control metadata directories excluded from counting
var vcsDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
}

// Entry is one counted directory
type Entry struct {
	Name  string
	Lines int64
}

// Count enumerates dir and returns line totals: first the top-level
// directory itself (regular files directly inside it, non-recursive),
// then each immediate subdirectory counted recursively, in directory
// enumeration order.
func Count(dir string) ([]Entry, error) {
	children, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var top int64
	for _, child := range children {
		if !child.Type().IsRegular() {
			continue
		}
		n, err := countFile(filepath.Join(dir, child.Name()))
		if err != nil {
			return nil, err
		}
		top += n
	}

	entries := []Entry{{Name: filepath.Base(filepath.Clean(dir)), Lines: top}}

	for _, child := range children {
		if !child.IsDir() || vcsDirs[child.Name()] {
			continue
		}
		n, err := countTree(filepath.Join(dir, child.Name()))
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: child.Name(), Lines: n})
	}

	return entries, nil
}

// Print writes entries as "name: count" lines
func Print(w io.Writer, entries []Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s: %d\n", e.Name, e.Lines)
	}
}

// countTree sums line counts of all regular files beneath root
func countTree(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if vcsDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		n, err := countFile(path)
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return total, nil
}

// countFile returns the newline-terminated line count of a file,
// matching what wc -l reports.
func countFile(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var lines int64
	reader := bufio.NewReader(f)
	buf := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				lines++
			}
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
}
