// Package store provides read-only access to the object model: distros,
// profiles, systems, repos, images and the settings record.
//
// A DirStore keeps one item per file below a root directory:
//
//	<root>/settings.yaml        (or settings.toml)
//	<root>/distros.d/<name>.yaml
//	<root>/profiles.d/<name>.toml
//	<root>/systems.d/...
//	<root>/repos.d/...
//	<root>/images.d/...
//
// Every accessor re-reads the files, so callers always see the current state.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/schaermu/bootsyncd/internal/model"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Collection directory names below the store root
const (
	DistrosDir  = "distros.d"
	ProfilesDir = "profiles.d"
	SystemsDir  = "systems.d"
	ReposDir    = "repos.d"
	ImagesDir   = "images.d"
)

// settingsBase is the settings file name without extension
const settingsBase = "settings"

// Store provides read-only accessors for the current object model
type Store interface {
	Distros() ([]model.Distro, error)
	Profiles() ([]model.Profile, error)
	Systems() ([]model.System, error)
	Repos() ([]model.Repo, error)
	Images() ([]model.Image, error)
	Settings() (model.Settings, error)
}

// DirStore implements Store over a directory of YAML/TOML item files
type DirStore struct {
	fs       afero.Fs
	root     string
	validate *validator.Validate
}

// NewDirStore creates a store rooted at dir on the given filesystem
func NewDirStore(fs afero.Fs, dir string) *DirStore {
	return &DirStore{
		fs:       fs,
		root:     dir,
		validate: validator.New(),
	}
}

// Root returns the store directory
func (s *DirStore) Root() string {
	return s.root
}

// WatchDirs returns the directories whose changes alter the object model
func (s *DirStore) WatchDirs() []string {
	dirs := []string{s.root}
	for _, sub := range []string{DistrosDir, ProfilesDir, SystemsDir, ReposDir, ImagesDir} {
		dirs = append(dirs, filepath.Join(s.root, sub))
	}
	return dirs
}

// Distros returns all distros sorted by name
func (s *DirStore) Distros() ([]model.Distro, error) {
	return loadCollection(s, DistrosDir, func(d *model.Distro) *string { return &d.Name })
}

// Profiles returns all profiles sorted by name
func (s *DirStore) Profiles() ([]model.Profile, error) {
	return loadCollection(s, ProfilesDir, func(p *model.Profile) *string { return &p.Name })
}

// Systems returns all systems sorted by name
func (s *DirStore) Systems() ([]model.System, error) {
	return loadCollection(s, SystemsDir, func(sys *model.System) *string { return &sys.Name })
}

// Repos returns all repos sorted by name
func (s *DirStore) Repos() ([]model.Repo, error) {
	return loadCollection(s, ReposDir, func(r *model.Repo) *string { return &r.Name })
}

// Images returns all images sorted by name
func (s *DirStore) Images() ([]model.Image, error) {
	return loadCollection(s, ImagesDir, func(i *model.Image) *string { return &i.Name })
}

// Settings reads and validates the settings record
func (s *DirStore) Settings() (model.Settings, error) {
	var settings model.Settings

	path, err := s.findSettings()
	if err != nil {
		return settings, err
	}

	if err := decodeFile(s.fs, path, &settings); err != nil {
		return settings, err
	}

	if err := s.validate.Struct(settings); err != nil {
		return settings, fmt.Errorf("invalid settings in %s: %w", path, err)
	}
	if !filepath.IsAbs(settings.WebDir) {
		return settings, fmt.Errorf("invalid settings in %s: webdir must be an absolute path: %s", path, settings.WebDir)
	}
	if !filepath.IsAbs(settings.TFTPBoot) {
		return settings, fmt.Errorf("invalid settings in %s: tftpboot must be an absolute path: %s", path, settings.TFTPBoot)
	}

	return settings, nil
}

// findSettings locates settings.yaml, settings.yml or settings.toml
func (s *DirStore) findSettings() (string, error) {
	for _, ext := range []string{".yaml", ".yml", ".toml"} {
		path := filepath.Join(s.root, settingsBase+ext)
		if _, err := s.fs.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("settings file not found in %s", s.root)
}

// loadCollection decodes every item file in a collection directory. The file
// stem names items that do not set a name themselves. A missing directory is
// an empty collection.
func loadCollection[T any](s *DirStore, sub string, name func(*T) *string) ([]T, error) {
	dir := filepath.Join(s.root, sub)

	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read collection %s: %w", dir, err)
	}

	items := make([]T, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || !isItemFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		var item T
		if err := decodeFile(s.fs, path, &item); err != nil {
			return nil, err
		}

		if n := name(&item); *n == "" {
			*n = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return *name(&items[i]) < *name(&items[j])
	})

	return items, nil
}

// isItemFile reports whether the file extension is a supported item format
func isItemFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// decodeFile parses a YAML or TOML file into out, chosen by extension
func decodeFile(fs afero.Fs, path string, out any) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if err := toml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	return nil
}
