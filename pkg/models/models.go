package models

import (
	"encoding/json"
	"fmt"

	"github.com/SoCaTel/data-handlers/pkg/twitter"
)

// ServiceRecord is the envelope the work queue delivers per organisation,
// mirroring the knowledge-base document it was produced from.
type ServiceRecord struct {
	Source ServiceSource `json:"_source"`
}

// ServiceSource holds the organisation fields relevant to harvesting
type ServiceSource struct {
	ScreenName   string `json:"twitter_screen_name"`
	Organisation string `json:"organisation_name"`
	OAuthToken   string `json:"twitter_oauth_token"`
	OAuthSecret  string `json:"twitter_oauth_secret"`
}

// Subject is one account to harvest, drained from the work queue.
// Immutable for the duration of its processing.
type Subject struct {
	ScreenName   string
	Organisation string

	// Optional per-subject access token pair; the consumer key pair
	// always comes from the handler's own configuration.
	OverrideToken  string
	OverrideSecret string
}

// DecodeSubject parses one queue record into a Subject
func DecodeSubject(data []byte) (*Subject, error) {
	var record ServiceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode service record: %w", err)
	}

	return &Subject{
		ScreenName:     twitter.SanitizeScreenName(record.Source.ScreenName),
		Organisation:   record.Source.Organisation,
		OverrideToken:  record.Source.OAuthToken,
		OverrideSecret: record.Source.OAuthSecret,
	}, nil
}

// HasOverride reports whether the subject carries its own access token pair
func (s *Subject) HasOverride() bool {
	return s.OverrideToken != "" && s.OverrideSecret != ""
}

// LogFields returns the subject context attached to every log line
func (s *Subject) LogFields() map[string]interface{} {
	return map[string]interface{}{
		"screen_name":  s.ScreenName,
		"organisation": s.Organisation,
	}
}
