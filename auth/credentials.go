// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth resolves Azure credentials from their supported shapes
// (inline service principal, credentials file, SAS token) into clients
// the rest of azimg can use. Resolution happens once at construction,
// never per call.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Credentials is the service account JSON document used across the
// SUSE public cloud tooling.
type Credentials struct {
	ClientID                   string `json:"clientId"`
	ClientSecret               string `json:"clientSecret"`
	SubscriptionID             string `json:"subscriptionId"`
	TenantID                   string `json:"tenantId"`
	ActiveDirectoryEndpointURL string `json:"activeDirectoryEndpointUrl"`
	ManagementEndpointURL      string `json:"managementEndpointUrl"`
}

// Validate checks the fields every authenticated call needs.
func (c *Credentials) Validate() error {
	for _, f := range []struct {
		name, value string
	}{
		{"clientId", c.ClientID},
		{"clientSecret", c.ClientSecret},
		{"subscriptionId", c.SubscriptionID},
		{"tenantId", c.TenantID},
	} {
		if f.value == "" {
			return fmt.Errorf("credentials missing required field %q", f.name)
		}
	}
	return nil
}

// ReadCredentials decodes a service account JSON file. A leading "~/"
// in path is expanded to the user's home directory.
func ReadCredentials(path string) (*Credentials, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, path[2:])
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var creds Credentials
	if err := json.NewDecoder(f).Decode(&creds); err != nil {
		return nil, fmt.Errorf("parsing credentials file %q: %w", path, err)
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("credentials file %q: %w", path, err)
	}

	return &creds, nil
}
