package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPermissionString(t *testing.T) {
	require.Equal(t, "read", ReadPerm.String())

	got := AllPermissions.String()
	require.Contains(t, got, "read")
	require.Contains(t, got, "write")
}

func TestVerbPermission(t *testing.T) {
	require.Equal(t, ReadPerm, VerbPermission("dump_state"))
	for _, verb := range []string{"script", "add_entry", "remove_entry", "resync", "stop"} {
		require.Equal(t, WritePerm, VerbPermission(verb), "verb %s", verb)
	}
}
