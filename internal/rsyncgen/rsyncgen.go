package rsyncgen

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/schaermu/bootsyncd/internal/model"
	"github.com/schaermu/bootsyncd/internal/templar"
	"github.com/spf13/afero"
)

// ErrTemplateUnreadable is returned when the rsync template cannot be loaded
var ErrTemplateUnreadable = errors.New("rsync template unreadable")

// Template variable names
const (
	VarDate    = "date"
	VarServer  = "server"
	VarDistros = "distros"
	VarRepos   = "repos"
)

// Generator renders the rsync daemon configuration exposing mirrored
// distribution trees and repositories
type Generator struct {
	fs           afero.Fs
	renderer     templar.Renderer
	templatePath string
	destPath     string
	now          func() time.Time
	logger       *slog.Logger
}

// NewGenerator creates a generator reading templatePath and writing destPath
func NewGenerator(fs afero.Fs, renderer templar.Renderer, templatePath, destPath string, logger *slog.Logger) *Generator {
	return &Generator{
		fs:           fs,
		renderer:     renderer,
		templatePath: templatePath,
		destPath:     destPath,
		now:          time.Now,
		logger:       logger,
	}
}

// WithClock replaces the time source used for the date variable
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate renders the configuration for the given snapshot
func (g *Generator) Generate(settings model.Settings, distros []model.Distro, repos []model.Repo) error {
	data, err := afero.ReadFile(g.fs, g.templatePath)
	if err != nil {
		return fmt.Errorf("%w: error reading template file %s: %w", ErrTemplateUnreadable, g.templatePath, err)
	}

	vars, err := g.Variables(settings, distros, repos)
	if err != nil {
		return err
	}

	g.logger.Debug("rendering rsync config",
		"dest", g.destPath,
		"distros", vars[VarDistros],
		"repos", vars[VarRepos])

	return g.renderer.Render(string(data), vars, g.destPath)
}

// Variables builds the template variable mapping
func (g *Generator) Variables(settings model.Settings, distros []model.Distro, repos []model.Repo) (map[string]any, error) {
	layout := model.LayoutFor(settings)

	distroNames, err := g.mirroredDistros(layout, distros)
	if err != nil {
		return nil, err
	}
	repoNames, err := g.mirroredRepos(layout, repos)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		VarDate:    Asctime(g.now()),
		VarServer:  settings.Server,
		VarDistros: distroNames,
		VarRepos:   repoNames,
	}, nil
}

// mirroredDistros returns distros that declare an install tree AND have a
// mirrored copy on disk. A tree without a mirror would be an empty module.
func (g *Generator) mirroredDistros(layout model.Layout, distros []model.Distro) ([]string, error) {
	names := make([]string, 0, len(distros))
	for _, d := range distros {
		if !d.HasTree() {
			continue
		}
		ok, err := afero.DirExists(g.fs, layout.KsMirrorDir(d.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to check mirror of distro %s: %w", d.Name, err)
		}
		if ok {
			names = append(names, d.Name)
		}
	}
	return names, nil
}

// mirroredRepos returns repos with a mirrored copy on disk
func (g *Generator) mirroredRepos(layout model.Layout, repos []model.Repo) ([]string, error) {
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		ok, err := afero.DirExists(g.fs, layout.RepoMirrorDir(r.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to check mirror of repo %s: %w", r.Name, err)
		}
		if ok {
			names = append(names, r.Name)
		}
	}
	return names, nil
}

// Asctime formats t in UTC the way C asctime does, e.g. "Thu Jan  1 00:00:00 2026"
func Asctime(t time.Time) string {
	return t.UTC().Format(time.ANSIC)
}
