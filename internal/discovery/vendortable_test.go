package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup_KnownVendor(t *testing.T) {
	info := Lookup(0x04b8, 0x0202)
	assert.Equal(t, "Epson TM-T88", info.Name)
	assert.True(t, info.Capabilities.Cutter)
	assert.Equal(t, 48, info.Capabilities.MaxColumns)
}

func TestLookup_UnknownVendorGetsDefaults(t *testing.T) {
	info := Lookup(0xffff, 0xffff)
	assert.Equal(t, "Unknown printer", info.Name)
	assert.Equal(t, defaultCapabilities, info.Capabilities)
}
