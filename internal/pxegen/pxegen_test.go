package pxegen

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/schaermu/bootsyncd/internal/model"
	"github.com/schaermu/bootsyncd/internal/templar"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var templates = Templates{
	System: "/etc/bootsyncd/pxesystem.template",
	Local:  "/etc/bootsyncd/pxelocal.template",
	Menu:   "/etc/bootsyncd/pxemenu.template",
}

func setup(t *testing.T) (afero.Fs, *TemplateGenerator, *model.Snapshot) {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/usr/share/syslinux/pxelinux.0": "PXE",
		"/usr/share/syslinux/menu.c32":   "MENU",
		"/srv/distros/d1/vmlinuz":        "kernel-d1",
		"/srv/distros/d1/initrd.img":     "initrd-d1",
		"/srv/images/rescue.iso":         "iso",
		"/srv/images/vm.qcow2":           "qcow",
		templates.System:                 "kernel {{ .profile.KernelPath }}\nappend initrd={{ .profile.InitrdPath }} {{ .profile.KernelOptions }} ks=http://{{ .server }}/ks/{{ .system.Name }}\n",
		templates.Local:                  "localboot 0 # {{ .system.Name }} {{ .interface.MACAddress }}\n",
		templates.Menu:                   "{{ range .profiles }}label {{ .Name }}\n  kernel {{ .KernelPath }}\n{{ end }}",
	}
	for p, c := range files {
		require.NoError(t, afero.WriteFile(fs, p, []byte(c), 0644))
	}

	snap := &model.Snapshot{
		Settings: model.Settings{
			WebDir:               "/var/www/bootsyncd",
			TFTPBoot:             "/srv/tftpboot",
			Server:               "10.0.0.1",
			DefaultKernelOptions: "quiet",
		},
		Distros: []model.Distro{
			{Name: "d1", Kernel: "/srv/distros/d1/vmlinuz", Initrd: "/srv/distros/d1/initrd.img", KernelOptions: "console=ttyS0"},
		},
		Profiles: []model.Profile{{Name: "p1", Distro: "d1", KernelOptions: "inst.text"}},
		Images: []model.Image{
			{Name: "rescue", File: "/srv/images/rescue.iso", ImageType: "iso"},
			{Name: "vm", File: "/srv/images/vm.qcow2", ImageType: "virt-clone"},
		},
	}

	g := NewTemplateGenerator(fs, templar.New(fs),
		[]string{"/usr/share/syslinux/pxelinux.0", "/usr/share/syslinux/menu.c32"},
		templates, testLogger())
	return fs, g, snap
}

func read(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err, path)
	return string(data)
}

func TestCopyBootloaders(t *testing.T) {
	fs, g, snap := setup(t)
	require.NoError(t, g.CopyBootloaders(snap))
	assert.Equal(t, "PXE", read(t, fs, "/srv/tftpboot/pxelinux.0"))
	assert.Equal(t, "MENU", read(t, fs, "/srv/tftpboot/menu.c32"))
}

func TestCopyBootloadersMissingSource(t *testing.T) {
	fs, _, snap := setup(t)
	g := NewTemplateGenerator(fs, templar.New(fs), []string{"/usr/share/syslinux/missing.0"}, templates, testLogger())
	err := g.CopyBootloaders(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/usr/share/syslinux/missing.0")
}

func TestCopyDistros(t *testing.T) {
	fs, g, snap := setup(t)
	require.NoError(t, g.CopyDistros(snap))

	for _, dir := range []string{"/srv/tftpboot/images/d1", "/var/www/bootsyncd/images/d1"} {
		assert.Equal(t, "kernel-d1", read(t, fs, dir+"/vmlinuz"))
		assert.Equal(t, "initrd-d1", read(t, fs, dir+"/initrd.img"))
	}
}

func TestCopyDistrosMissingKernel(t *testing.T) {
	_, g, snap := setup(t)
	snap.Distros[0].Kernel = "/srv/distros/d1/gone"
	err := g.CopyDistros(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "d1")
	assert.Contains(t, err.Error(), "/srv/distros/d1/gone")

	snap.Distros[0].Kernel = ""
	err = g.CopyDistros(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kernel and initrd are required")
}

func TestCopyImages(t *testing.T) {
	fs, g, snap := setup(t)
	require.NoError(t, g.CopyImages(snap))

	assert.Equal(t, "iso", read(t, fs, "/srv/tftpboot/images2/rescue"))
	exists, err := afero.Exists(fs, "/srv/tftpboot/images2/vm")
	require.NoError(t, err)
	assert.False(t, exists, "virt images are not copied")
}

func TestCopyFileSkipsCurrentDestination(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src", []byte("data"), 0640))
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Chtimes("/src", old, old))

	copied, err := copyFile(fs, "/src", "/dst/file")
	require.NoError(t, err)
	assert.True(t, copied)

	info, err := fs.Stat("/dst/file")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old))
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	copied, err = copyFile(fs, "/src", "/dst/file")
	require.NoError(t, err)
	assert.False(t, copied)

	// changed source is copied again
	require.NoError(t, afero.WriteFile(fs, "/src", []byte("new data"), 0640))
	copied, err = copyFile(fs, "/src", "/dst/file")
	require.NoError(t, err)
	assert.True(t, copied)
	assert.Equal(t, "new data", read(t, fs, "/dst/file"))
}

func TestWriteHostFilesNetboot(t *testing.T) {
	fs, g, snap := setup(t)
	sys := model.System{
		Name:           "host1",
		Profile:        "p1",
		NetbootEnabled: true,
		Interfaces: []model.Interface{
			{Name: "eth0", MACAddress: "AA:BB:CC:DD:EE:01"},
			{Name: "eth1"},
		},
	}

	require.NoError(t, g.WriteHostFiles(snap, sys))

	got := read(t, fs, "/srv/tftpboot/pxelinux.cfg/01-aa-bb-cc-dd-ee-01")
	assert.Equal(t, "kernel /images/d1/vmlinuz\nappend initrd=/images/d1/initrd.img quiet console=ttyS0 inst.text ks=http://10.0.0.1/ks/host1\n", got)

	entries, err := afero.ReadDir(fs, "/srv/tftpboot/pxelinux.cfg")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "interfaces without MAC get no entry")
}

func TestWriteHostFilesLocalBoot(t *testing.T) {
	fs, g, snap := setup(t)
	sys := model.System{
		Name:       "host2",
		Profile:    "p1",
		Interfaces: []model.Interface{{Name: "eth0", MACAddress: "AA:BB:CC:DD:EE:02"}},
	}

	require.NoError(t, g.WriteHostFiles(snap, sys))
	assert.Equal(t, "localboot 0 # host2 AA:BB:CC:DD:EE:02\n", read(t, fs, "/srv/tftpboot/pxelinux.cfg/01-aa-bb-cc-dd-ee-02"))
}

func TestWriteHostFilesUnknownReferences(t *testing.T) {
	_, g, snap := setup(t)

	err := g.WriteHostFiles(snap, model.System{Name: "h", Profile: "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown profile "ghost"`)

	err = g.WriteHostFiles(snap, model.System{Name: "h", Image: "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown image "ghost"`)

	snap.Profiles = append(snap.Profiles, model.Profile{Name: "orphan", Distro: "nope"})
	err = g.WriteHostFiles(snap, model.System{Name: "h", Profile: "orphan"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown distro "nope"`)
}

func TestWriteHostFilesImage(t *testing.T) {
	fs, g, snap := setup(t)
	require.NoError(t, afero.WriteFile(fs, templates.System, []byte("{{ if .image }}memdisk {{ .image_path }}{{ else }}kernel{{ end }}\n"), 0644))

	sys := model.System{
		Name:           "rescue-host",
		Image:          "rescue",
		NetbootEnabled: true,
		Interfaces:     []model.Interface{{MACAddress: "aa:bb:cc:dd:ee:03"}},
	}
	require.NoError(t, g.WriteHostFiles(snap, sys))
	assert.Equal(t, "memdisk /images2/rescue\n", read(t, fs, "/srv/tftpboot/pxelinux.cfg/01-aa-bb-cc-dd-ee-03"))
}

func TestBuildMenu(t *testing.T) {
	fs, g, snap := setup(t)
	snap.Profiles = append(snap.Profiles, model.Profile{Name: "p2", Distro: "d1"})

	require.NoError(t, g.BuildMenu(snap))
	assert.Equal(t, "label p1\n  kernel /images/d1/vmlinuz\nlabel p2\n  kernel /images/d1/vmlinuz\n",
		read(t, fs, "/srv/tftpboot/pxelinux.cfg/default"))
}

func TestBuildMenuMissingTemplate(t *testing.T) {
	fs, _, snap := setup(t)
	g := NewTemplateGenerator(fs, templar.New(fs), nil, Templates{Menu: "/nope.template"}, testLogger())
	err := g.BuildMenu(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nope.template")
}

func TestKernelOptions(t *testing.T) {
	assert.Equal(t, "a b c", KernelOptions("a", " ", "b", "", " c "))
	assert.Equal(t, "", KernelOptions())
}
