package auth

import (
	"os"
	"time"
)

// EnvironmentStore implements CredentialStore using environment variables.
// It exists so containerized deployments can skip the keychain entirely.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve gets credentials from environment variables
func (e *EnvironmentStore) Retrieve(label string) (*Account, error) {
	consumerKey := os.Getenv("TWH_CONSUMER_KEY")
	consumerSecret := os.Getenv("TWH_CONSUMER_SECRET")
	accessToken := os.Getenv("TWH_ACCESS_TOKEN")
	accessSecret := os.Getenv("TWH_ACCESS_SECRET")

	if consumerKey == "" || consumerSecret == "" {
		return nil, ErrCredentialsNotFound
	}

	// Environment variables don't carry a label
	if label == "" {
		label = "default"
	}

	return &Account{
		Label:          label,
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		AccessToken:    accessToken,
		AccessSecret:   accessSecret,
		LastModified:   time.Now(),
	}, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(label string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(label string) bool {
	return os.Getenv("TWH_CONSUMER_KEY") != "" && os.Getenv("TWH_CONSUMER_SECRET") != ""
}
