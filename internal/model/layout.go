package model

import "path/filepath"

// Fixed subdirectories of the boot-service root
const (
	PXEConfigDir = "pxelinux.cfg"
	BootImages   = "images"
	YabootBinDir = "ppc"
	YabootCfgDir = "etc"
	S390Dir      = "s390x"
	// BootImages2 holds whole boot images (ISO, memdisk) as opposed to kernels
	BootImages2 = "images2"
)

// Subdirectories of the mirroring-service root
const (
	KsMirror    = "ks_mirror"
	RepoMirror  = "repo_mirror"
	WebImages   = "images"
	RenderedDir = "rendered"
)

// Layout resolves on-disk locations from the settings snapshot
type Layout struct {
	WebDir  string
	BootDir string
}

// LayoutFor returns the layout described by settings
func LayoutFor(s Settings) Layout {
	return Layout{WebDir: s.WebDir, BootDir: s.TFTPBoot}
}

// BootSubdirs returns the fixed boot-service subdirectories in creation order
func (l Layout) BootSubdirs() []string {
	return []string{
		filepath.Join(l.BootDir, PXEConfigDir),
		filepath.Join(l.BootDir, BootImages),
		filepath.Join(l.BootDir, YabootBinDir),
		filepath.Join(l.BootDir, YabootCfgDir),
		filepath.Join(l.BootDir, S390Dir),
	}
}

// PXEConfigPath returns the pxelinux.cfg entry for name
func (l Layout) PXEConfigPath(name string) string {
	return filepath.Join(l.BootDir, PXEConfigDir, name)
}

// BootImagesDir returns the boot-service directory for a distro's kernel and initrd
func (l Layout) BootImagesDir(distro string) string {
	return filepath.Join(l.BootDir, BootImages, distro)
}

// BootImages2Path returns the boot-service path for a whole boot image
func (l Layout) BootImages2Path(image string) string {
	return filepath.Join(l.BootDir, BootImages2, image)
}

// WebImagesDir returns the mirroring-service directory for a distro's kernel and initrd
func (l Layout) WebImagesDir(distro string) string {
	return filepath.Join(l.WebDir, WebImages, distro)
}

// KsMirrorDir returns the mirrored install tree of a distro
func (l Layout) KsMirrorDir(distro string) string {
	return filepath.Join(l.WebDir, KsMirror, distro)
}

// RepoMirrorDir returns the mirrored content of a repo
func (l Layout) RepoMirrorDir(repo string) string {
	return filepath.Join(l.WebDir, RepoMirror, repo)
}

// RenderedPath returns the rendered-output directory under the mirroring root
func (l Layout) RenderedPath() string {
	return filepath.Join(l.WebDir, RenderedDir)
}
