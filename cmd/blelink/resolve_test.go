package main

import (
	"testing"

	"github.com/srg/blelink/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sharedCharServices() *device.Services {
	return device.NewServices([]device.ServiceRef{
		{UUID: "180f", Characteristics: []device.CharacteristicRef{{UUID: "2a19"}}},
		{UUID: "1234", Characteristics: []device.CharacteristicRef{{UUID: "2a19"}, {UUID: "2a29"}}},
	})
}

func TestParseWriteSpec(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		target string
		data   []byte
		err    string
	}{
		{name: "plain hex", value: "2a19=0a0b", target: "2a19", data: []byte{0x0a, 0x0b}},
		{name: "prefixed and spaced", value: "180d/2a39=0x01 02:03", target: "180d/2a39", data: []byte{0x01, 0x02, 0x03}},
		{name: "empty payload", value: "2a19=", target: "2a19", data: []byte{}},
		{name: "missing separator", value: "2a19", err: "expected <characteristic>=<hex>"},
		{name: "missing target", value: "=01", err: "expected <characteristic>=<hex>"},
		{name: "odd length", value: "2a19=123", err: "payload must be hex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := parseWriteSpec(tt.value)
			if tt.err != "" {
				assert.ErrorContains(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target, spec.target)
			assert.Equal(t, tt.data, spec.data)
		})
	}
}

func TestResolveCharacteristic(t *testing.T) {
	services := sharedCharServices()

	ref, err := resolveCharacteristic(services, "2a29")
	require.NoError(t, err)
	assert.Equal(t, device.CharacteristicRef{Service: "1234", UUID: "2a29"}, ref, "unique bare UUID MUST resolve to its service")

	ref, err = resolveCharacteristic(services, "0000180F-0000-1000-8000-00805F9B34FB/0x2A19")
	require.NoError(t, err)
	assert.Equal(t, device.CharacteristicRef{Service: "180f", UUID: "2a19"}, ref)

	_, err = resolveCharacteristic(services, "2a19")
	assert.ErrorContains(t, err, "characteristic 2a19 is ambiguous, found in services 180f, 1234")

	_, err = resolveCharacteristic(services, "2a00")
	var nf *device.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "characteristic", nf.Resource)

	_, err = resolveCharacteristic(services, "180f/2a29")
	assert.ErrorAs(t, err, &nf, "characteristic MUST be looked up in the given service only")

	_, err = resolveCharacteristic(services, "battery")
	assert.ErrorContains(t, err, "invalid characteristic")

	_, err = resolveCharacteristic(services, "180f/2a19/2902")
	assert.ErrorContains(t, err, "expected [<service>/]<char>")
}

func TestResolveDescriptor(t *testing.T) {
	services := sharedCharServices()

	ref, err := resolveDescriptor(services, "2a29/2902")
	require.NoError(t, err)
	assert.Equal(t, device.NewDescriptorRef("1234", "2a29", "2902"), ref)

	ref, err = resolveDescriptor(services, "180f/2a19/0x2902")
	require.NoError(t, err)
	assert.Equal(t, "180f/2a19/2902", ref.String())

	for _, bad := range []string{"2902", "/2902", "2a29/", "2a29/desc"} {
		_, err = resolveDescriptor(services, bad)
		assert.Error(t, err, "%q MUST be rejected", bad)
	}
}
