package config

import (
	"os"
	"testing"
)

func TestNetworkParamsDefaults(t *testing.T) {
	os.Unsetenv(EnvElderSize)
	os.Unsetenv(EnvSafeSectionSize)

	params := DefaultNetworkParams()

	if params.ElderSize != DefaultElderSize {
		t.Fatalf("ElderSize should be %d, not %d", DefaultElderSize, params.ElderSize)
	}
	if params.SafeSectionSize != DefaultSafeSectionSize {
		t.Fatalf("SafeSectionSize should be %d, not %d", DefaultSafeSectionSize, params.SafeSectionSize)
	}
}

func TestNetworkParamsEnvOverride(t *testing.T) {
	os.Setenv(EnvElderSize, "11")
	os.Setenv(EnvSafeSectionSize, "15")
	defer os.Unsetenv(EnvElderSize)
	defer os.Unsetenv(EnvSafeSectionSize)

	params := DefaultNetworkParams()

	if params.ElderSize != 11 {
		t.Fatalf("ElderSize should be 11, not %d", params.ElderSize)
	}
	if params.SafeSectionSize != 15 {
		t.Fatalf("SafeSectionSize should be 15, not %d", params.SafeSectionSize)
	}
}

func TestNetworkParamsBadOverride(t *testing.T) {
	os.Setenv(EnvElderSize, "not-a-number")
	os.Setenv(EnvSafeSectionSize, "-3")
	defer os.Unsetenv(EnvElderSize)
	defer os.Unsetenv(EnvSafeSectionSize)

	params := DefaultNetworkParams()

	if params.ElderSize != DefaultElderSize {
		t.Fatalf("bad override should fall back to default, got %d", params.ElderSize)
	}
	if params.SafeSectionSize != DefaultSafeSectionSize {
		t.Fatalf("negative override should fall back to default, got %d", params.SafeSectionSize)
	}
}
