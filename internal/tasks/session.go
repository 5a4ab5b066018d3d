package tasks

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// stageSources copies the inputs into session in plan order, so a plan can be re-rendered
// after the originals move. sources maps plan position to input index.
func stageSources(session string, paths []string, sources []int) ([]string, error) {
	if len(sources) == 0 {
		sources = make([]int, len(paths))
		for i := range sources {
			sources[i] = i
		}
	}
	staged := make([]string, len(sources))
	for pos, idx := range sources {
		if idx < 0 || idx >= len(paths) {
			return nil, fmt.Errorf("source index %d out of range", idx)
		}
		src := paths[idx]
		dst := filepath.Join(session, fmt.Sprintf("%03d%s", pos, strings.ToLower(filepath.Ext(src))))
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("copy %s: %w", src, err)
		}
		staged[pos] = dst
	}
	return staged, nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}
