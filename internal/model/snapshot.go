package model

// Snapshot is the object model captured for one sync run. It is not persisted
// and must not be modified once taken.
type Snapshot struct {
	Settings Settings
	Distros  []Distro
	Profiles []Profile
	Systems  []System
	Repos    []Repo
	Images   []Image
}

// Layout returns the on-disk layout described by the snapshot's settings
func (s *Snapshot) Layout() Layout {
	return LayoutFor(s.Settings)
}

// Distro looks up a distro by name
func (s *Snapshot) Distro(name string) (Distro, bool) {
	for _, d := range s.Distros {
		if d.Name == name {
			return d, true
		}
	}
	return Distro{}, false
}

// Profile looks up a profile by name
func (s *Snapshot) Profile(name string) (Profile, bool) {
	for _, p := range s.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Image looks up an image by name
func (s *Snapshot) Image(name string) (Image, bool) {
	for _, i := range s.Images {
		if i.Name == name {
			return i, true
		}
	}
	return Image{}, false
}
