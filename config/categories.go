package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
	"github.com/use-agent/casescan/scanner"
)

// CategoryFile is the JSON5 document read from ScannerConfig.CategoriesFile.
//
//	{
//	  // priority order: a page claims the first unfound match
//	  categories: [
//	    { name: "PERDIMENTO", slug: "perdimento", keyword: "PERDIMENTO" },
//	  ],
//	}
type CategoryFile struct {
	Categories []scanner.Category `json:"categories"`
}

// LoadCategories returns the category rules from path, or the built-in
// rules when path is empty. A sibling "<name>.local.<ext>" file, when
// present, overrides fields of the main file.
func LoadCategories(path string) ([]scanner.Category, error) {
	if path == "" {
		return scanner.DefaultCategories(), nil
	}

	file, err := readCategoryFile(path)
	if err != nil {
		return nil, err
	}
	if err := scanner.ValidateCategories(file.Categories); err != nil {
		return nil, fmt.Errorf("categories file %s: %w", path, err)
	}
	return file.Categories, nil
}

func readCategoryFile(path string) (CategoryFile, error) {
	var out CategoryFile

	data, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("read categories file: %w", err)
	}
	if err := json5.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("parse categories file %s: %w", path, err)
	}

	localPath := localVariant(path)
	local, err := os.ReadFile(localPath)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("read categories file: %w", err)
	}

	var override CategoryFile
	if err := json5.Unmarshal(local, &override); err != nil {
		return out, fmt.Errorf("parse categories file %s: %w", localPath, err)
	}
	if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
		return out, fmt.Errorf("merge categories file %s: %w", localPath, err)
	}
	slog.Info("merging categories with local overrides", "local", localPath)
	return out, nil
}

// localVariant turns "dir/categories.json5" into "dir/categories.local.json5".
func localVariant(path string) string {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	return filepath.Join(dir, strings.TrimSuffix(base, ext)+".local"+ext)
}
