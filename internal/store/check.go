package store

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/schaermu/bootsyncd/internal/model"
)

// Check loads every collection and verifies referential integrity: unique
// names, profiles naming an existing distro and systems naming an existing
// profile or image. All problems are reported together.
func Check(s Store) error {
	var result *multierror.Error

	if _, err := s.Settings(); err != nil {
		result = multierror.Append(result, err)
	}

	distros, err := s.Distros()
	if err != nil {
		result = multierror.Append(result, err)
	}
	profiles, err := s.Profiles()
	if err != nil {
		result = multierror.Append(result, err)
	}
	systems, err := s.Systems()
	if err != nil {
		result = multierror.Append(result, err)
	}
	repos, err := s.Repos()
	if err != nil {
		result = multierror.Append(result, err)
	}
	images, err := s.Images()
	if err != nil {
		result = multierror.Append(result, err)
	}

	distroNames := uniqueNames("distro", names(distros, func(d model.Distro) string { return d.Name }), &result)
	profileNames := uniqueNames("profile", names(profiles, func(p model.Profile) string { return p.Name }), &result)
	repoNames := uniqueNames("repo", names(repos, func(r model.Repo) string { return r.Name }), &result)
	imageNames := uniqueNames("image", names(images, func(i model.Image) string { return i.Name }), &result)
	uniqueNames("system", names(systems, func(sys model.System) string { return sys.Name }), &result)

	for _, d := range distros {
		if d.Kernel == "" || d.Initrd == "" {
			result = multierror.Append(result, fmt.Errorf("distro %s: kernel and initrd are required", d.Name))
		}
	}

	for _, p := range profiles {
		if !distroNames[p.Distro] {
			result = multierror.Append(result, fmt.Errorf("profile %s: unknown distro %q", p.Name, p.Distro))
		}
		for _, r := range p.Repos {
			if !repoNames[r] {
				result = multierror.Append(result, fmt.Errorf("profile %s: unknown repo %q", p.Name, r))
			}
		}
	}

	for _, sys := range systems {
		switch {
		case sys.Profile != "" && sys.Image != "":
			result = multierror.Append(result, fmt.Errorf("system %s: only one of profile or image may be set", sys.Name))
		case sys.Profile != "":
			if !profileNames[sys.Profile] {
				result = multierror.Append(result, fmt.Errorf("system %s: unknown profile %q", sys.Name, sys.Profile))
			}
		case sys.Image != "":
			if !imageNames[sys.Image] {
				result = multierror.Append(result, fmt.Errorf("system %s: unknown image %q", sys.Name, sys.Image))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("system %s: profile or image is required", sys.Name))
		}
	}

	return result.ErrorOrNil()
}

func names[T any](items []T, name func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, name(item))
	}
	return out
}

// uniqueNames returns the name set, recording duplicates in result
func uniqueNames(kind string, list []string, result **multierror.Error) map[string]bool {
	seen := make(map[string]bool, len(list))
	for _, n := range list {
		if seen[n] {
			*result = multierror.Append(*result, fmt.Errorf("duplicate %s name %q", kind, n))
		}
		seen[n] = true
	}
	return seen
}

// Unique reports every collection of snap that holds the same name twice.
// Generated files are keyed by name, so a sync refuses such a model.
func Unique(snap *model.Snapshot) error {
	var result *multierror.Error
	uniqueNames("distro", names(snap.Distros, func(d model.Distro) string { return d.Name }), &result)
	uniqueNames("profile", names(snap.Profiles, func(p model.Profile) string { return p.Name }), &result)
	uniqueNames("system", names(snap.Systems, func(sys model.System) string { return sys.Name }), &result)
	uniqueNames("repo", names(snap.Repos, func(r model.Repo) string { return r.Name }), &result)
	uniqueNames("image", names(snap.Images, func(i model.Image) string { return i.Name }), &result)
	return result.ErrorOrNil()
}
