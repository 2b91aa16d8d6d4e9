// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package validation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	require.NoError(t, ValidateIdentifier("f1"))
	require.NoError(t, ValidateIdentifier("backend-2_a"))
	require.Error(t, ValidateIdentifier(""))
	require.Error(t, ValidateIdentifier("has space"))
	require.Error(t, ValidateIdentifier("rm;-rf"))
}

func TestValidateInterfaceName(t *testing.T) {
	require.NoError(t, ValidateInterfaceName("eth0"))
	require.NoError(t, ValidateInterfaceName("vlan.100"))
	require.Error(t, ValidateInterfaceName(""))
	require.Error(t, ValidateInterfaceName("way-too-long-an-ifname"))
	require.Error(t, ValidateInterfaceName("eth0;reboot"))
}

func TestValidateIPOrCIDR(t *testing.T) {
	require.NoError(t, ValidateIPOrCIDR("10.0.0.1"))
	require.NoError(t, ValidateIPOrCIDR("2001:db8::1"))
	require.NoError(t, ValidateIPOrCIDR("10.0.0.0/24"))
	require.Error(t, ValidateIPOrCIDR(""))
	require.Error(t, ValidateIPOrCIDR("not-an-ip"))
	require.Error(t, ValidateIPOrCIDR("10.0.0.0/99"))
}

func TestValidatePortNumber(t *testing.T) {
	require.NoError(t, ValidatePortNumber(1))
	require.NoError(t, ValidatePortNumber(65535))
	require.Error(t, ValidatePortNumber(0))
	require.Error(t, ValidatePortNumber(70000))
}

func TestValidateProtocol(t *testing.T) {
	require.NoError(t, ValidateProtocol("tcp"))
	require.NoError(t, ValidateProtocol("UDP"))
	require.Error(t, ValidateProtocol("icmp"))
}

func TestValidateAllowlist(t *testing.T) {
	require.NoError(t, ValidateAllowlist("rr", []string{"rr", "weight", "hash"}))
	require.Error(t, ValidateAllowlist("roundrobin", []string{"rr", "weight", "hash"}))
}

func TestValidatePath(t *testing.T) {
	require.NoError(t, ValidatePath("/etc/nlbd/nlbd.hcl", []string{"/etc/nlbd"}))
	require.Error(t, ValidatePath("/etc/nlbd/../shadow", []string{"/etc/nlbd"}))
	require.Error(t, ValidatePath("/etc/passwd", []string{"/etc/nlbd"}))
	require.Error(t, ValidatePath("", []string{"/etc/nlbd"}))
}

func TestSanitizeString(t *testing.T) {
	require.Equal(t, "rmrf", SanitizeString("rm;|&$`()<>\\\"'\n\rrf"))
	require.Equal(t, "plain-name_1", SanitizeString("plain-name_1"))
}
