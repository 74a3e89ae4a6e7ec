package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/taskpilot/internal/ignore"
)

// Document types stored in the type metadata field.
const (
	TypeCode = "code"
	TypeDoc  = "doc"
)

var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".taskpilot":   true,
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
	".venv":        true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
}

var codeExt = map[string]bool{
	".go": true, ".rs": true, ".py": true, ".ts": true, ".tsx": true, ".js": true,
	".java": true, ".c": true, ".h": true, ".cc": true, ".cpp": true, ".rb": true,
	".proto": true, ".sql": true, ".sh": true, ".toml": true, ".yaml": true, ".yml": true,
}

var docExt = map[string]bool{".md": true, ".txt": true, ".rst": true, ".adoc": true}

type file struct {
	rel     string
	kind    string
	content string
}

// classify returns the document type for rel, or "" to skip it.
func classify(rel string) string {
	ext := strings.ToLower(filepath.Ext(rel))
	switch {
	case codeExt[ext]:
		return TypeCode
	case docExt[ext]:
		return TypeDoc
	}
	return ""
}

// walk collects indexable files under root.
func walk(ctx context.Context, root string, maxBytes int64) ([]file, error) {
	matcher, err := ignore.Load(root)
	if err != nil {
		return nil, err
	}
	var files []file
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (skipDirs[d.Name()] || matcher.Match(rel, true)) {
				return filepath.SkipDir
			}
			return nil
		}
		kind := classify(rel)
		if kind == "" || matcher.Match(rel, false) {
			return nil
		}
		info, err := d.Info()
		if err != nil || (maxBytes > 0 && info.Size() > maxBytes) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil || !utf8.Valid(content) {
			return nil
		}
		files = append(files, file{rel: filepath.ToSlash(rel), kind: kind, content: string(content)})
		return nil
	})
	return files, err
}
