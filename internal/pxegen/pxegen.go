// Package pxegen populates the boot-service tree: bootloaders, distro kernels
// and initrds, boot images, per-host pxelinux entries and the boot menu.
//
// No boot-loader file format is built in. Per-host entries and the menu are
// rendered from operator-supplied templates.
package pxegen

import (
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/schaermu/bootsyncd/internal/model"
	"github.com/schaermu/bootsyncd/internal/templar"
	"github.com/spf13/afero"
)

// MenuFile is the pxelinux.cfg entry rendered by BuildMenu
const MenuFile = "default"

// Generator produces the boot-service artifacts for a snapshot
type Generator interface {
	// CopyBootloaders copies the configured bootloader binaries into the boot root
	CopyBootloaders(snap *model.Snapshot) error
	// CopyDistros copies every distro's kernel and initrd into both trees
	CopyDistros(snap *model.Snapshot) error
	// CopyImages copies network-bootable images into the boot root
	CopyImages(snap *model.Snapshot) error
	// WriteHostFiles writes the pxelinux entries of one system
	WriteHostFiles(snap *model.Snapshot, system model.System) error
	// BuildMenu writes the aggregate boot menu
	BuildMenu(snap *model.Snapshot) error
}

// Templates locates the templates used by TemplateGenerator
type Templates struct {
	System string // netboot-enabled host entry
	Local  string // host entry booting from local disk
	Menu   string // aggregate menu
}

// TemplateGenerator implements Generator by copying files and rendering templates
type TemplateGenerator struct {
	fs          afero.Fs
	renderer    templar.Renderer
	bootloaders []string
	templates   Templates
	logger      *slog.Logger
}

// NewTemplateGenerator creates a generator
func NewTemplateGenerator(fs afero.Fs, renderer templar.Renderer, bootloaders []string, templates Templates, logger *slog.Logger) *TemplateGenerator {
	return &TemplateGenerator{
		fs:          fs,
		renderer:    renderer,
		bootloaders: bootloaders,
		templates:   templates,
		logger:      logger,
	}
}

// CopyBootloaders copies each bootloader into the boot root under its base name
func (g *TemplateGenerator) CopyBootloaders(snap *model.Snapshot) error {
	for _, src := range g.bootloaders {
		dst := filepath.Join(snap.Settings.TFTPBoot, filepath.Base(src))
		if err := g.copy(src, dst); err != nil {
			return fmt.Errorf("failed to copy bootloader %s: %w", src, err)
		}
	}
	return nil
}

// CopyDistros copies kernel and initrd of every distro to
// <tftpboot>/images/<distro>/ and <webdir>/images/<distro>/
func (g *TemplateGenerator) CopyDistros(snap *model.Snapshot) error {
	layout := snap.Layout()
	for _, d := range snap.Distros {
		for _, dir := range []string{layout.BootImagesDir(d.Name), layout.WebImagesDir(d.Name)} {
			for _, src := range []string{d.Kernel, d.Initrd} {
				if src == "" {
					return fmt.Errorf("distro %s: kernel and initrd are required", d.Name)
				}
				if err := g.copy(src, filepath.Join(dir, filepath.Base(src))); err != nil {
					return fmt.Errorf("failed to copy distro %s file %s: %w", d.Name, src, err)
				}
			}
		}
	}
	return nil
}

// CopyImages copies ISO and memdisk images to <tftpboot>/images2/<name>
func (g *TemplateGenerator) CopyImages(snap *model.Snapshot) error {
	layout := snap.Layout()
	for _, img := range snap.Images {
		if !img.Bootable() {
			g.logger.Debug("skipping image that is not network bootable", "image", img.Name, "type", img.ImageType)
			continue
		}
		if err := g.copy(img.File, layout.BootImages2Path(img.Name)); err != nil {
			return fmt.Errorf("failed to copy image %s file %s: %w", img.Name, img.File, err)
		}
	}
	return nil
}

// WriteHostFiles renders one pxelinux entry per interface with a MAC address
func (g *TemplateGenerator) WriteHostFiles(snap *model.Snapshot, system model.System) error {
	vars, err := g.hostVars(snap, system)
	if err != nil {
		return err
	}

	templatePath := g.templates.Local
	if system.NetbootEnabled {
		templatePath = g.templates.System
	}
	text, err := afero.ReadFile(g.fs, templatePath)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", templatePath, err)
	}

	layout := snap.Layout()
	for _, iface := range system.Interfaces {
		name := iface.PXEConfigName()
		if name == "" {
			continue
		}
		vars["interface"] = iface
		if err := g.renderer.Render(string(text), vars, layout.PXEConfigPath(name)); err != nil {
			return fmt.Errorf("failed to write boot file for system %s: %w", system.Name, err)
		}
	}
	return nil
}

// BuildMenu renders the menu listing every profile
func (g *TemplateGenerator) BuildMenu(snap *model.Snapshot) error {
	text, err := afero.ReadFile(g.fs, g.templates.Menu)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", g.templates.Menu, err)
	}

	entries := make([]MenuEntry, 0, len(snap.Profiles))
	for _, p := range snap.Profiles {
		d, ok := snap.Distro(p.Distro)
		if !ok {
			return fmt.Errorf("profile %s: unknown distro %q", p.Name, p.Distro)
		}
		entries = append(entries, newMenuEntry(snap.Settings, p, d))
	}

	vars := map[string]any{
		"server":   snap.Settings.Server,
		"profiles": entries,
	}
	dest := snap.Layout().PXEConfigPath(MenuFile)
	if err := g.renderer.Render(string(text), vars, dest); err != nil {
		return fmt.Errorf("failed to write boot menu: %w", err)
	}
	return nil
}

// MenuEntry describes one bootable profile
type MenuEntry struct {
	Name          string
	Distro        string
	KernelPath    string
	InitrdPath    string
	KernelOptions string
}

func newMenuEntry(settings model.Settings, p model.Profile, d model.Distro) MenuEntry {
	return MenuEntry{
		Name:          p.Name,
		Distro:        d.Name,
		KernelPath:    bootPath(d.Name, d.Kernel),
		InitrdPath:    bootPath(d.Name, d.Initrd),
		KernelOptions: KernelOptions(settings.DefaultKernelOptions, d.KernelOptions, p.KernelOptions),
	}
}

// hostVars builds the template variables of a system. Either profile or
// image (with image_path) is set; the other is nil.
func (g *TemplateGenerator) hostVars(snap *model.Snapshot, system model.System) (map[string]any, error) {
	vars := map[string]any{
		"system":     system,
		"server":     snap.Settings.Server,
		"settings":   snap.Settings,
		"profile":    nil,
		"image":      nil,
		"image_path": "",
	}

	if system.Image != "" {
		img, ok := snap.Image(system.Image)
		if !ok {
			return nil, fmt.Errorf("system %s: unknown image %q", system.Name, system.Image)
		}
		vars["image"] = img
		vars["image_path"] = path.Join("/", model.BootImages2, img.Name)
		return vars, nil
	}

	p, ok := snap.Profile(system.Profile)
	if !ok {
		return nil, fmt.Errorf("system %s: unknown profile %q", system.Name, system.Profile)
	}
	d, ok := snap.Distro(p.Distro)
	if !ok {
		return nil, fmt.Errorf("system %s: profile %s has unknown distro %q", system.Name, p.Name, p.Distro)
	}
	vars["profile"] = newMenuEntry(snap.Settings, p, d)
	return vars, nil
}

// bootPath is the TFTP-relative path of a file copied by CopyDistros
func bootPath(distro, file string) string {
	return path.Join("/", model.BootImages, distro, filepath.Base(file))
}

// KernelOptions joins option strings from least to most specific, dropping empties
func KernelOptions(layers ...string) string {
	var parts []string
	for _, l := range layers {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, " ")
}

// copy wraps copyFile with debug logging
func (g *TemplateGenerator) copy(src, dst string) error {
	copied, err := copyFile(g.fs, src, dst)
	if err != nil {
		return err
	}
	if copied {
		g.logger.Debug("copied file", "src", src, "dst", dst)
	}
	return nil
}
