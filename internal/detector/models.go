// SPDX-License-Identifier: MIT
package detector

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KeywordModel is a precompiled keyword signature on disk. Its position in
// the discovered list is the index the engine reports.
type KeywordModel struct {
	Name string // File name without extension.
	Path string
}

// DiscoverModels lists the files in dir carrying extension ext, sorted by
// file name. The order is stable for the lifetime of the process and defines
// the index to keyword mapping.
func DiscoverModels(dir, ext string) ([]KeywordModel, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read models directory: %w", err)
	}

	var models []KeywordModel
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		models = append(models, KeywordModel{
			Name: strings.TrimSuffix(entry.Name(), ext),
			Path: filepath.Join(dir, entry.Name()),
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Path < models[j].Path })

	if len(models) == 0 {
		return nil, fmt.Errorf("no %s keyword models found in %s", ext, dir)
	}
	return models, nil
}

// Paths returns the model paths in index order.
func Paths(models []KeywordModel) []string {
	paths := make([]string, len(models))
	for i, m := range models {
		paths[i] = m.Path
	}
	return paths
}

// LoadAccessKey reads the engine credential from path. When the file does not
// exist the value of the fallback environment variable is used instead.
func LoadAccessKey(path, envVar string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("access key file %s is empty", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read access key: %w", err)
	}

	if key := strings.TrimSpace(os.Getenv(envVar)); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("no access key: %s does not exist and %s is not set", path, envVar)
}
