// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// Source is a resolved credential. It is built once from one of the
// supported shapes and handed to the API layer; no credential-shape
// dispatch happens after construction.
type Source struct {
	creds *Credentials
	cred  azcore.TokenCredential
	sas   string
}

// Inline resolves an in-memory credentials document into a service
// principal credential.
func Inline(creds *Credentials) (*Source, error) {
	if creds == nil {
		return nil, errors.New("auth: nil credentials")
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	var opts azidentity.ClientSecretCredentialOptions
	if creds.ActiveDirectoryEndpointURL != "" {
		opts.ClientOptions.Cloud = cloud.Configuration{
			ActiveDirectoryAuthorityHost: creds.ActiveDirectoryEndpointURL,
			Services:                     cloud.AzurePublic.Services,
		}
	}
	cred, err := azidentity.NewClientSecretCredential(
		creds.TenantID, creds.ClientID, creds.ClientSecret, &opts)
	if err != nil {
		return nil, fmt.Errorf("auth: creating service principal credential: %w", err)
	}

	return &Source{creds: creds, cred: cred}, nil
}

// File resolves a credentials file into a service principal credential.
func File(path string) (*Source, error) {
	creds, err := ReadCredentials(path)
	if err != nil {
		return nil, err
	}
	return Inline(creds)
}

// SASToken wraps a shared access signature for storage-only use. No
// management or marketplace call can be made with it.
func SASToken(token string) *Source {
	return &Source{sas: token}
}

// HasServicePrincipal reports whether management-plane calls are
// possible with this source.
func (s *Source) HasServicePrincipal() bool {
	return s.cred != nil
}

// SAS returns the shared access signature, or "".
func (s *Source) SAS() string {
	return s.sas
}

// SubscriptionID returns the subscription the credentials belong to,
// or "" for a SAS-only source.
func (s *Source) SubscriptionID() string {
	if s.creds == nil {
		return ""
	}
	return s.creds.SubscriptionID
}

// TokenCredential returns the resolved service principal credential,
// or nil for a SAS-only source.
func (s *Source) TokenCredential() azcore.TokenCredential {
	return s.cred
}
