package source

import (
	"os"
	"path/filepath"
)

// Discover finds every immediate subdirectory of root that contains a regular
// file called name. An absent root or no matches yields an empty result, since
// a campaign whose workers have not started yet is a normal state.
func Discover(root, name string) ([]LogSource, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	kind := KindFor(name)
	var sources []LogSource
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		// Stat follows symlinked worker directories.
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		path := filepath.Join(dir, name)
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		sources = append(sources, LogSource{
			Key:  e.Name(),
			Path: path,
			Kind: kind,
		})
	}
	return sources, nil
}

// Workers returns the distinct worker directories under root, whatever files
// they hold so far.
func Workers(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		info, err := os.Stat(filepath.Join(root, e.Name()))
		if err != nil || !info.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
