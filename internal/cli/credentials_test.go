package cli

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCredentialsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.yaml")
	_, err := LoadCredentials(path)
	require.ErrorIs(t, err, errNotLoggedIn)

	want := &Credentials{Server: "http://localhost:8080", User: "alice", Token: "tok", Expires: time.Now().Add(time.Hour).UTC().Truncate(time.Second)}
	require.NoError(t, SaveCredentials(want, path))
	got, err := LoadCredentials(path)
	require.NoError(t, err)
	require.Equal(t, want.Token, got.Token)
	require.True(t, want.Expires.Equal(got.Expires))

	want.Expires = time.Now().Add(-time.Minute)
	require.NoError(t, SaveCredentials(want, path))
	_, err = LoadCredentials(path)
	require.ErrorContains(t, err, "expired")
}

func TestFileType(t *testing.T) {
	require.Equal(t, "application/octet-stream", fileType("blob"))
	require.Contains(t, fileType("notes.txt"), "text/plain")
}
