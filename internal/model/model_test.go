package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistroHasTree(t *testing.T) {
	tests := []struct {
		name   string
		distro Distro
		want   bool
	}{
		{"nil meta", Distro{Name: "d"}, false},
		{"other keys", Distro{Name: "d", KsMeta: map[string]string{"foo": "bar"}}, false},
		{"tree set", Distro{Name: "d", KsMeta: map[string]string{"tree": "http://srv/ks_mirror/d"}}, true},
		{"tree empty value", Distro{Name: "d", KsMeta: map[string]string{"tree": ""}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.distro.HasTree())
		})
	}
}

func TestPXEConfigName(t *testing.T) {
	assert.Equal(t, "01-aa-bb-cc-dd-ee-ff", Interface{MACAddress: "AA:BB:CC:DD:EE:FF"}.PXEConfigName())
	assert.Equal(t, "", Interface{}.PXEConfigName())
}

func TestImageBootable(t *testing.T) {
	assert.True(t, Image{ImageType: "iso"}.Bootable())
	assert.True(t, Image{ImageType: "memdisk"}.Bootable())
	assert.False(t, Image{ImageType: "virt-clone"}.Bootable())
}

func TestEffectiveNextServer(t *testing.T) {
	assert.Equal(t, "10.0.0.1", Settings{Server: "10.0.0.1"}.EffectiveNextServer())
	assert.Equal(t, "10.0.0.2", Settings{Server: "10.0.0.1", NextServer: "10.0.0.2"}.EffectiveNextServer())
}
