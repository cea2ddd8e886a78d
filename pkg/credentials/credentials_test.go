package credentials

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsIsExpired(t *testing.T) {
	testCases := []struct {
		expiresAt time.Time
		expect    bool
		name      string
	}{
		{time.Now().Add(-1 * time.Hour), true, "past expiration"},
		{time.Now().Add(1 * time.Hour), false, "future expiration"},
		{time.Time{}, false, "unknown expiration"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			creds := &Credentials{AccessToken: "test_token", ExpiresAt: tc.expiresAt}
			assert.Equal(t, tc.expect, creds.IsExpired())
		})
	}
}

func TestCredentialsIsValid(t *testing.T) {
	var none *Credentials
	assert.False(t, none.IsValid())
	assert.False(t, (&Credentials{ExpiresAt: time.Now().Add(time.Hour)}).IsValid())
	assert.True(t, (&Credentials{AccessToken: "t", ExpiresAt: time.Now().Add(time.Hour)}).IsValid())
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")

	creds, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Nil(t, creds)

	want := &Credentials{
		AccessToken: "token",
		UserID:      "u1",
		ExpiresAt:   time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, SaveTo(path, want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.UserID, got.UserID)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}
