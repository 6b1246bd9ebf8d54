package mcp

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

// skipDirs are directory names never descended into during corpus
// discovery. Hidden directories are skipped as well.
var skipDirs = map[string]struct{}{
	"target":       {},
	"node_modules": {},
	"dist":         {},
	"build":        {},
	"__pycache__":  {},
	"venv":         {},
	"coverage":     {},
	"vendor":       {},
	"packages":     {},
	"out":          {},
	"bin":          {},
	"obj":          {},
}

// sourceExtensions are the file types that enter the corpus.
var sourceExtensions = map[string]struct{}{
	".rs":   {},
	".py":   {},
	".js":   {},
	".ts":   {},
	".go":   {},
	".java": {},
	".c":    {},
	".cpp":  {},
	".h":    {},
	".hpp":  {},
	".md":   {},
	".toml": {},
	".yaml": {},
	".yml":  {},
	".json": {},
	".txt":  {},
}

// LoadCorpus walks root and reads every indexable file. Unreadable
// files become IO warnings, never a failed scan; the index decides what
// changed, the loader only reports what is there now.
func LoadCorpus(root string) ([]types.FileInput, []types.Warning, error) {
	var (
		files    []types.FileInput
		warnings []types.Warning
	)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			warnings = append(warnings, types.Warning{
				Kind: types.WarnIO, Subject: path, Message: err.Error(),
			})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if _, skip := skipDirs[name]; skip {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") {
			return nil
		}
		if _, ok := sourceExtensions[filepath.Ext(name)]; !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			warnings = append(warnings, types.Warning{
				Kind: types.WarnIO, Subject: path, Message: err.Error(),
			})
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			warnings = append(warnings, types.Warning{
				Kind: types.WarnIO, Subject: path, Message: err.Error(),
			})
			return nil
		}

		files = append(files, types.FileInput{
			Path:    path,
			Text:    string(data),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, warnings, err
	}
	return files, warnings, nil
}

// WatchDirs lists root and every subdirectory that corpus discovery
// descends into, for filesystem watch registration.
func WatchDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root {
			name := d.Name()
			if strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if _, skip := skipDirs[name]; skip {
				return filepath.SkipDir
			}
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dirs, nil
}
