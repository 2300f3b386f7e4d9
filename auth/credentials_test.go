// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testCredsJSON = `{
  "clientId": "b52c7e19-1111-2222-3333-444455556666",
  "clientSecret": "secret",
  "subscriptionId": "sub-1",
  "tenantId": "tenant-1",
  "activeDirectoryEndpointUrl": "https://login.microsoftonline.com",
  "managementEndpointUrl": "https://management.core.windows.net/"
}`

func writeCreds(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadCredentials(t *testing.T) {
	creds, err := ReadCredentials(writeCreds(t, testCredsJSON))
	if err != nil {
		t.Fatalf("ReadCredentials: %v", err)
	}
	if creds.ClientID != "b52c7e19-1111-2222-3333-444455556666" {
		t.Errorf("got clientId %q", creds.ClientID)
	}
	if creds.SubscriptionID != "sub-1" {
		t.Errorf("got subscriptionId %q", creds.SubscriptionID)
	}
	if creds.ActiveDirectoryEndpointURL != "https://login.microsoftonline.com" {
		t.Errorf("got AD endpoint %q", creds.ActiveDirectoryEndpointURL)
	}
}

func TestReadCredentialsMissingField(t *testing.T) {
	incomplete := `{"clientId":"id","clientSecret":"secret","subscriptionId":"sub-1"}`
	_, err := ReadCredentials(writeCreds(t, incomplete))
	if err == nil {
		t.Fatal("credentials without a tenant must be rejected")
	}
	if !strings.Contains(err.Error(), "tenantId") {
		t.Errorf("error does not name the missing field: %v", err)
	}
}

func TestReadCredentialsMalformed(t *testing.T) {
	if _, err := ReadCredentials(writeCreds(t, "not json")); err == nil {
		t.Fatal("malformed JSON must be rejected")
	}
}

func TestReadCredentialsMissingFile(t *testing.T) {
	if _, err := ReadCredentials(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("missing file must be reported")
	}
}

func TestValidate(t *testing.T) {
	creds := Credentials{
		ClientID:       "id",
		ClientSecret:   "secret",
		SubscriptionID: "sub",
		TenantID:       "tenant",
	}
	if err := creds.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	for _, clear := range []struct {
		field string
		mut   func(*Credentials)
	}{
		{"clientId", func(c *Credentials) { c.ClientID = "" }},
		{"clientSecret", func(c *Credentials) { c.ClientSecret = "" }},
		{"subscriptionId", func(c *Credentials) { c.SubscriptionID = "" }},
		{"tenantId", func(c *Credentials) { c.TenantID = "" }},
	} {
		c := creds
		clear.mut(&c)
		err := c.Validate()
		if err == nil {
			t.Errorf("missing %s accepted", clear.field)
			continue
		}
		if !strings.Contains(err.Error(), clear.field) {
			t.Errorf("error for missing %s does not name it: %v", clear.field, err)
		}
	}
}

func TestSASTokenSource(t *testing.T) {
	s := SASToken("?sv=2022-11-02&sig=abc")
	if s.HasServicePrincipal() {
		t.Error("SAS source must not report a service principal")
	}
	if s.SAS() != "?sv=2022-11-02&sig=abc" {
		t.Error("SAS source must report its token")
	}
	if _, err := NewTokenSource(s, PartnerScope); err == nil {
		t.Error("token source from a SAS token must be refused")
	}
}
