package model

import (
	"fmt"
	"strings"
)

// TreeKey is the distro metadata entry marking a network-installable source tree.
const TreeKey = "tree"

// Distro is a network-bootable distribution (kernel + initrd)
type Distro struct {
	Name          string            `yaml:"name" toml:"name"`
	Arch          string            `yaml:"arch" toml:"arch"`
	Breed         string            `yaml:"breed" toml:"breed"`
	Kernel        string            `yaml:"kernel" toml:"kernel"`
	Initrd        string            `yaml:"initrd" toml:"initrd"`
	KernelOptions string            `yaml:"kernel_options" toml:"kernel_options"`
	KsMeta        map[string]string `yaml:"ks_meta" toml:"ks_meta"`
}

// HasTree reports whether the distro's metadata declares an installable tree
func (d Distro) HasTree() bool {
	_, ok := d.KsMeta[TreeKey]
	return ok
}

// Profile binds a distro to an installation recipe
type Profile struct {
	Name          string   `yaml:"name" toml:"name"`
	Distro        string   `yaml:"distro" toml:"distro"`
	Kickstart     string   `yaml:"kickstart" toml:"kickstart"`
	KernelOptions string   `yaml:"kernel_options" toml:"kernel_options"`
	Repos         []string `yaml:"repos" toml:"repos"`
}

// System is a managed host
type System struct {
	Name           string      `yaml:"name" toml:"name"`
	Profile        string      `yaml:"profile" toml:"profile"`
	Image          string      `yaml:"image" toml:"image"`
	Hostname       string      `yaml:"hostname" toml:"hostname"`
	NetbootEnabled bool        `yaml:"netboot_enabled" toml:"netboot_enabled"`
	Interfaces     []Interface `yaml:"interfaces" toml:"interfaces"`
}

// Interface is a single network interface of a system
type Interface struct {
	Name       string `yaml:"name" toml:"name"`
	MACAddress string `yaml:"mac_address" toml:"mac_address"`
	IPAddress  string `yaml:"ip_address" toml:"ip_address"`
	DNSName    string `yaml:"dns_name" toml:"dns_name"`
}

// PXEConfigName returns the pxelinux.cfg file name for the interface,
// e.g. AA:BB:CC:DD:EE:FF -> 01-aa-bb-cc-dd-ee-ff.
// Returns "" when the interface has no MAC address.
func (i Interface) PXEConfigName() string {
	if i.MACAddress == "" {
		return ""
	}
	mac := strings.ToLower(strings.ReplaceAll(i.MACAddress, ":", "-"))
	return "01-" + mac
}

// Repo is a package repository that may be mirrored locally
type Repo struct {
	Name   string `yaml:"name" toml:"name"`
	Mirror string `yaml:"mirror" toml:"mirror"`
	Arch   string `yaml:"arch" toml:"arch"`
}

// Image is a prebuilt boot image (ISO, memdisk, virt image)
type Image struct {
	Name      string `yaml:"name" toml:"name"`
	File      string `yaml:"file" toml:"file"`
	ImageType string `yaml:"image_type" toml:"image_type"`
}

// Bootable reports whether the image can be served over the network boot path
func (i Image) Bootable() bool {
	switch i.ImageType {
	case "iso", "memdisk":
		return true
	}
	return false
}

// Settings is the process-wide deployment configuration record
type Settings struct {
	WebDir               string `yaml:"webdir" toml:"webdir" validate:"required"`
	TFTPBoot             string `yaml:"tftpboot" toml:"tftpboot" validate:"required"`
	Server               string `yaml:"server" toml:"server" validate:"required"`
	NextServer           string `yaml:"next_server" toml:"next_server"`
	ManageDHCP           bool   `yaml:"manage_dhcp" toml:"manage_dhcp"`
	ManageDNS            bool   `yaml:"manage_dns" toml:"manage_dns"`
	PXEJustOnce          bool   `yaml:"pxe_just_once" toml:"pxe_just_once"`
	DefaultKernelOptions string `yaml:"default_kernel_options" toml:"default_kernel_options"`
}

// EffectiveNextServer returns the TFTP server handed out to DHCP clients
func (s Settings) EffectiveNextServer() string {
	if s.NextServer != "" {
		return s.NextServer
	}
	return s.Server
}

// String implements fmt.Stringer for log output
func (s Settings) String() string {
	return fmt.Sprintf("webdir=%s tftpboot=%s server=%s dhcp=%t dns=%t",
		s.WebDir, s.TFTPBoot, s.Server, s.ManageDHCP, s.ManageDNS)
}
