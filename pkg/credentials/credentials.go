// Package credentials persists the signed-in user's tokens
package credentials

import (
	"errors"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/zfogg/sidechain/clientsync/pkg/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username,omitempty"`
}

// Load loads credentials from disk. It returns nil, nil when none are saved.
func Load() (*Credentials, error) {
	return LoadFrom(config.GetCredentialsPath())
}

// LoadFrom loads credentials from path
func LoadFrom(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// Save saves credentials to disk
func Save(creds *Credentials) error {
	return SaveTo(config.GetCredentialsPath(), creds)
}

// SaveTo writes creds to path, readable by the owner only
func SaveTo(path string, creds *Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Delete deletes credentials from disk
func Delete() error {
	err := os.Remove(config.GetCredentialsPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// IsExpired checks if the access token is expired. A zero ExpiresAt means
// the expiry is unknown and the token is assumed live.
func (c *Credentials) IsExpired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// IsValid checks if credentials are valid
func (c *Credentials) IsValid() bool {
	return c != nil && c.AccessToken != "" && !c.IsExpired()
}
