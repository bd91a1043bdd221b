package templar

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/spf13/afero"
)

// Renderer substitutes variables into template text and writes the result
type Renderer interface {
	Render(templateText string, vars map[string]any, dest string) error
}

// Templar implements Renderer with text/template and the sprig function set
type Templar struct {
	fs   afero.Fs
	mode os.FileMode
}

// New creates a renderer writing to fs
func New(fs afero.Fs) *Templar {
	return &Templar{fs: fs, mode: 0644}
}

// Render executes templateText with vars and atomically replaces dest.
// Referencing a variable that is not in vars is an error.
func (t *Templar) Render(templateText string, vars map[string]any, dest string) error {
	out, err := Execute(filepath.Base(dest), templateText, vars)
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", dest, err)
	}
	if err := t.write(dest, out); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}

// RenderFile reads the template at templatePath and renders it to dest
func (t *Templar) RenderFile(templatePath string, vars map[string]any, dest string) error {
	data, err := afero.ReadFile(t.fs, templatePath)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", templatePath, err)
	}
	return t.Render(string(data), vars, dest)
}

// Execute renders a template to memory
func Execute(name, templateText string, vars map[string]any) ([]byte, error) {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(templateText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return nil, fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// write replaces dest through a temp file in the same directory.
// An unchanged file is left alone.
func (t *Templar) write(dest string, data []byte) error {
	if current, err := afero.ReadFile(t.fs, dest); err == nil && bytes.Equal(current, data) {
		return nil
	}

	if err := t.fs.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	tmpFile, err := afero.TempFile(t.fs, filepath.Dir(dest), ".bootsyncd-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = t.fs.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := t.fs.Chmod(tmpPath, t.mode); err != nil {
		return err
	}

	return t.fs.Rename(tmpPath, dest)
}
