// Package library finds book documents in a directory tree.
package library

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"bookrag/internal/extract"
	"bookrag/internal/indexer"
)

// Document is a book file found during scanning.
type Document struct {
	Slug    string // Derived from the file name, e.g. "the-hobbit"
	Title   string // Derived from the file name, e.g. "The Hobbit"
	Format  string // extract.FormatText or extract.FormatMarkdown
	RelPath string // Relative path from the library root, forward slashes
	AbsPath string
}

// Scan walks root and returns every supported document ordered by relative path.
// Hidden directories are skipped. Two files deriving the same slug are an error.
func Scan(ctx context.Context, root string) ([]Document, error) {
	var docs []Document
	bySlug := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to access path %s: %w", path, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		format, ok := extract.FormatFromPath(path)
		if !ok {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to compute relative path for %s: %w", path, err)
		}
		relPath = filepath.ToSlash(relPath)

		slug := SlugFromFilename(path)
		if slug == "" {
			return nil
		}
		if other, dup := bySlug[slug]; dup {
			return fmt.Errorf("files %s and %s both map to slug %q", other, relPath, slug)
		}
		bySlug[slug] = relPath

		docs = append(docs, Document{
			Slug:    slug,
			Title:   TitleFromFilename(path),
			Format:  format,
			RelPath: relPath,
			AbsPath: path,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan library %s: %w", root, err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].RelPath < docs[j].RelPath })
	return docs, nil
}

// Request reads the document and builds its ingestion request.
func (d Document) Request() (indexer.IngestRequest, error) {
	content, err := os.ReadFile(d.AbsPath)
	if err != nil {
		return indexer.IngestRequest{}, fmt.Errorf("failed to read %s: %w", d.RelPath, err)
	}
	return indexer.IngestRequest{
		Document: content,
		Format:   d.Format,
		Slug:     d.Slug,
		Title:    d.Title,
	}, nil
}

func baseName(filename string) string {
	name := filepath.Base(filename)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// SlugFromFilename lowercases the base name and joins its letter and digit runs with hyphens.
func SlugFromFilename(filename string) string {
	fields := strings.FieldsFunc(strings.ToLower(baseName(filename)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, "-")
}

// TitleFromFilename turns "the_hobbit" or "the-hobbit" into "The Hobbit".
func TitleFromFilename(filename string) string {
	name := strings.NewReplacer("_", " ", "-", " ").Replace(baseName(filename))

	// Capitalize first letter of each word
	words := strings.Fields(name)
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
