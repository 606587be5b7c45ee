package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Filesystem tools execute against a fixed workspace root. Paths are resolved
// relative to the workspace and must not escape it.

// resolvePath resolves a path against the workspace and rejects escapes,
// following symlinks to their canonical form before the boundary check.
func resolvePath(path, workspace string) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}

	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace
	}

	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
		// Non-existent target: resolve the parent and re-append the base.
		parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(absResolved))
		if parentErr != nil {
			if !os.IsNotExist(parentErr) {
				return "", fmt.Errorf("access denied: cannot resolve path")
			}
			parentReal = filepath.Dir(absResolved)
		}
		real = filepath.Join(parentReal, filepath.Base(absResolved))
	}

	if real != wsReal && !strings.HasPrefix(real, wsReal+string(filepath.Separator)) {
		return "", fmt.Errorf("access denied: path outside workspace")
	}
	return real, nil
}

// ReadTool reads file contents.
type ReadTool struct{ workspace string }

func NewReadTool(workspace string) *ReadTool { return &ReadTool{workspace: workspace} }

func (t *ReadTool) Name() string        { return "read" }
func (t *ReadTool) Description() string { return "Read the contents of a file in the workspace" }
func (t *ReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file, relative to the workspace",
			},
		},
		"required": []interface{}{"path"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	resolved, err := resolvePath(stringArg(args, "path"), t.workspace)
	if err != nil {
		return ErrorResult("Error: %v", err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult("Error: failed to read file: %v", err)
	}
	return NewResult(string(data))
}

// WriteTool creates or overwrites a file.
type WriteTool struct{ workspace string }

func NewWriteTool(workspace string) *WriteTool { return &WriteTool{workspace: workspace} }

func (t *WriteTool) Name() string { return "write" }
func (t *WriteTool) Description() string {
	return "Write content to a file in the workspace, creating parent directories as needed"
}
func (t *WriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string", "description": "Destination path"},
			"content": map[string]interface{}{"type": "string", "description": "File content"},
		},
		"required": []interface{}{"path", "content"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	resolved, err := resolvePath(stringArg(args, "path"), t.workspace)
	if err != nil {
		return ErrorResult("Error: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult("Error: failed to create directory: %v", err)
	}
	content := stringArg(args, "content")
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult("Error: failed to write file: %v", err)
	}
	return NewResult(fmt.Sprintf("Wrote %d bytes to %s", len(content), stringArg(args, "path")))
}

// EditTool replaces an exact text occurrence in a file.
type EditTool struct{ workspace string }

func NewEditTool(workspace string) *EditTool { return &EditTool{workspace: workspace} }

func (t *EditTool) Name() string { return "edit" }
func (t *EditTool) Description() string {
	return "Replace an exact text occurrence in a file. The old text must appear exactly once."
}
func (t *EditTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":     map[string]interface{}{"type": "string", "description": "File to edit"},
			"old_text": map[string]interface{}{"type": "string", "description": "Exact text to replace"},
			"new_text": map[string]interface{}{"type": "string", "description": "Replacement text"},
		},
		"required": []interface{}{"path", "old_text", "new_text"},
	}
}

func (t *EditTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	resolved, err := resolvePath(stringArg(args, "path"), t.workspace)
	if err != nil {
		return ErrorResult("Error: %v", err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult("Error: failed to read file: %v", err)
	}
	content := string(data)
	oldText := stringArg(args, "old_text")
	switch strings.Count(content, oldText) {
	case 0:
		return ErrorResult("Error: old_text not found in %s", stringArg(args, "path"))
	case 1:
		// ok
	default:
		return ErrorResult("Error: old_text appears multiple times in %s; provide more context", stringArg(args, "path"))
	}
	updated := strings.Replace(content, oldText, stringArg(args, "new_text"), 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return ErrorResult("Error: failed to write file: %v", err)
	}
	return NewResult("Edit applied to " + stringArg(args, "path"))
}

// LsTool lists a directory.
type LsTool struct{ workspace string }

func NewLsTool(workspace string) *LsTool { return &LsTool{workspace: workspace} }

func (t *LsTool) Name() string        { return "ls" }
func (t *LsTool) Description() string { return "List the contents of a workspace directory" }
func (t *LsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list (default: workspace root)",
			},
		},
	}
}

func (t *LsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	resolved, err := resolvePath(path, t.workspace)
	if err != nil {
		return ErrorResult("Error: %v", err)
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ErrorResult("Error: failed to list directory: %v", err)
	}
	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			sb.WriteString(e.Name() + "/\n")
		} else {
			sb.WriteString(e.Name() + "\n")
		}
	}
	if sb.Len() == 0 {
		return NewResult("(empty directory)")
	}
	return NewResult(strings.TrimRight(sb.String(), "\n"))
}

// GrepTool searches file contents with a regular expression.
type GrepTool struct{ workspace string }

func NewGrepTool(workspace string) *GrepTool { return &GrepTool{workspace: workspace} }

func (t *GrepTool) Name() string { return "grep" }
func (t *GrepTool) Description() string {
	return "Search workspace files for lines matching a regular expression"
}
func (t *GrepTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{"type": "string", "description": "Go regular expression"},
			"path":    map[string]interface{}{"type": "string", "description": "File or directory to search (default: workspace root)"},
		},
		"required": []interface{}{"pattern"},
	}
}

const grepMaxMatches = 200

func (t *GrepTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	re, err := regexp.Compile(stringArg(args, "pattern"))
	if err != nil {
		return ErrorResult("Error: invalid pattern: %v", err)
	}
	path := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	root, err := resolvePath(path, t.workspace)
	if err != nil {
		return ErrorResult("Error: %v", err)
	}

	var sb strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || matches >= grepMaxMatches {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != root {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				sb.WriteString(fmt.Sprintf("%s:%d: %s\n", rel, i+1, strings.TrimSpace(line)))
				matches++
				if matches >= grepMaxMatches {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return ErrorResult("Error: search failed: %v", walkErr)
	}
	if matches == 0 {
		return NewResult("No matches found")
	}
	return NewResult(strings.TrimRight(sb.String(), "\n"))
}

// FindTool locates files by name glob.
type FindTool struct{ workspace string }

func NewFindTool(workspace string) *FindTool { return &FindTool{workspace: workspace} }

func (t *FindTool) Name() string        { return "find" }
func (t *FindTool) Description() string { return "Find workspace files whose name matches a glob pattern" }
func (t *FindTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{"type": "string", "description": "Glob pattern matched against file names (e.g. *.md)"},
		},
		"required": []interface{}{"pattern"},
	}
}

func (t *FindTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern := stringArg(args, "pattern")
	root, err := resolvePath(".", t.workspace)
	if err != nil {
		return ErrorResult("Error: %v", err)
	}

	var found []string
	filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != root {
				return filepath.SkipDir
			}
			return nil
		}
		ok, matchErr := filepath.Match(pattern, d.Name())
		if matchErr != nil || !ok {
			return matchErr
		}
		rel, _ := filepath.Rel(root, p)
		found = append(found, rel)
		return nil
	})

	if len(found) == 0 {
		return NewResult("No files found")
	}
	sort.Strings(found)
	return NewResult(strings.Join(found, "\n"))
}
