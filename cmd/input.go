package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"scanocr/internal/imaging"
)

var pageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".tif": true, ".tiff": true, ".bmp": true, ".webp": true,
}

// collectPageFiles expands directories into their image files. Files inside a
// directory are taken in name order, so page-001.png precedes page-002.png.
func collectPageFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("page file not found: %s", arg)
			}
			return nil, fmt.Errorf("error accessing %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", arg, err)
		}
		var dirFiles []string
		for _, e := range entries {
			if e.IsDir() || !pageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			dirFiles = append(dirFiles, filepath.Join(arg, e.Name()))
		}
		sort.Strings(dirFiles)
		files = append(files, dirFiles...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no page images found")
	}
	return files, nil
}

// loadPages decodes every file as one page of a single document.
func loadPages(files []string, dpi int) ([]*imaging.PageImage, error) {
	pages := make([]*imaging.PageImage, 0, len(files))
	for i, f := range files {
		page, err := imaging.LoadFile(f, i)
		if err != nil {
			return nil, err
		}
		if dpi > 0 {
			origin := page.Origin()
			origin.DPI = dpi
			page = page.WithOrigin(origin)
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// preprocessFor picks the preset for scripts and applies the crop override.
func preprocessFor(scripts string, difficult bool, crop string, defaultCrop *imaging.Margins) (imaging.PreprocessConfig, error) {
	set, err := parseScripts(scripts)
	if err != nil {
		return imaging.PreprocessConfig{}, err
	}
	cfg := imaging.ConfigFor(set, difficult)
	if defaultCrop != nil {
		cfg.Margins = *defaultCrop
	}
	if crop != "" {
		m, err := imaging.ParseMargins(crop)
		if err != nil {
			return imaging.PreprocessConfig{}, err
		}
		cfg.Margins = m
	}
	return cfg, cfg.Validate()
}
