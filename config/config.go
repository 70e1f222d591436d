// Package config loads the remote platform configuration from the
// environment, with optional .env support.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/madhavapavan/CipherChat/storage"
)

// Config locates the remote platform.
type Config struct {
	Endpoint             string
	ProjectID            string
	DatabaseID           string
	UsersCollectionID    string
	MessagesCollectionID string
	RequestsCollectionID string
	BucketID             string
	HTTPTimeout          time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Load",
		}).Debug("No .env file found, using environment variables")
	}

	timeout := 30 * time.Second
	if v := os.Getenv("CIPHERCHAT_HTTP_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			timeout = parsed
		}
	}

	return Config{
		Endpoint:             os.Getenv("CIPHERCHAT_ENDPOINT"),
		ProjectID:            os.Getenv("CIPHERCHAT_PROJECT_ID"),
		DatabaseID:           os.Getenv("CIPHERCHAT_DATABASE_ID"),
		UsersCollectionID:    getenv("CIPHERCHAT_USERS_COLLECTION_ID", "users"),
		MessagesCollectionID: getenv("CIPHERCHAT_MESSAGES_COLLECTION_ID", "messages"),
		RequestsCollectionID: getenv("CIPHERCHAT_REQUESTS_COLLECTION_ID", "requests"),
		BucketID:             getenv("CIPHERCHAT_BUCKET_ID", "files"),
		HTTPTimeout:          timeout,
	}
}

// Remote converts the configuration into remote-store form.
func (c Config) Remote() storage.RemoteConfig {
	return storage.RemoteConfig{
		Endpoint:             c.Endpoint,
		ProjectID:            c.ProjectID,
		DatabaseID:           c.DatabaseID,
		UsersCollectionID:    c.UsersCollectionID,
		MessagesCollectionID: c.MessagesCollectionID,
		RequestsCollectionID: c.RequestsCollectionID,
		BucketID:             c.BucketID,
		HTTPTimeout:          c.HTTPTimeout,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
