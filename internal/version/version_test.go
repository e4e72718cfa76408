package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInfoMatchesGetters(t *testing.T) {
	v, c, d := Info()
	require.NotEmpty(t, v)
	require.Equal(t, GetVersion(), v)
	require.Equal(t, GetCommit(), c)
	require.Equal(t, GetDate(), d)
}

func TestStringUsesLinkedValues(t *testing.T) {
	oldVersion, oldCommit, oldDate := version, commit, date
	t.Cleanup(func() { version, commit, date = oldVersion, oldCommit, oldDate })

	version, commit, date = "1.4.0", "abc123", "2026-03-01"
	require.Equal(t, "ordering version=1.4.0 commit=abc123 date=2026-03-01", String())
}
