package ocr

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/kid-extractor/constants"
)

const imagePrefix = "img"

// extractImages dumps embedded images with pdfimages and groups them by page.
// Returned paths are relative to the markdown file (images/<name>).
func (e *Extractor) extractImages(ctx context.Context, pdfPath, imagesDir string) (map[int][]string, []string) {
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, []string{fmt.Sprintf("images dir: %v", err)}
	}

	// pdfimages -png -p <in.pdf> <dir/img>  ->  img-<page>-<n>.png
	args := []string{"-png", "-p"}
	if e.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(e.cfg.MaxPages))
	}
	args = append(args, pdfPath, filepath.Join(imagesDir, imagePrefix))
	if _, errb, err := e.runner.Run(ctx, e.cfg.Pdfimages, args...); err != nil {
		return nil, []string{fmt.Sprintf("pdfimages: %v %s", err, strings.TrimSpace(string(errb)))}
	}

	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return nil, []string{fmt.Sprintf("images dir: %v", err)}
	}
	var names []string
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasPrefix(ent.Name(), imagePrefix+"-") || !constants.IsImageExt(filepath.Ext(ent.Name())) {
			continue
		}
		names = append(names, ent.Name())
	}
	sort.Strings(names)

	byPage := make(map[int][]string)
	for _, name := range names {
		byPage[imagePage(name)] = append(byPage[imagePage(name)], path.Join(constants.ImagesDir, name))
	}
	e.logger.Debug("ocr.images.ok", "dir", imagesDir, "images", len(names))
	return byPage, nil
}

// imagePage parses the page number out of img-PPP-NNN.png; 0 when absent.
func imagePage(name string) int {
	parts := strings.Split(strings.TrimSuffix(name, filepath.Ext(name)), "-")
	if len(parts) < 3 {
		return 0
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return n
}

// attachImages appends images to their page; unknown pages go to the last one.
func attachImages(pages []Page, byPage map[int][]string) {
	if len(pages) == 0 {
		return
	}
	keys := make([]int, 0, len(byPage))
	for k := range byPage {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		idx := k - 1
		if idx < 0 || idx >= len(pages) {
			idx = len(pages) - 1
		}
		pages[idx].Images = append(pages[idx].Images, byPage[k]...)
	}
}
