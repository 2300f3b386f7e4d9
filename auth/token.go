// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// PartnerScope is the OAuth scope of the Cloud Partner (marketplace)
// API.
const PartnerScope = "https://cloudpartner.azure.com/.default"

// tokens are refreshed this long before their reported expiry
const tokenSlack = 2 * time.Minute

// TokenSource produces bearer tokens for one scope, caching them until
// close to expiry. Invalidate drops the cached token, which the request
// executor uses for its single re-authentication retry.
type TokenSource struct {
	cred  azcore.TokenCredential
	scope string

	mu  sync.Mutex
	tok azcore.AccessToken
}

// NewTokenSource builds a TokenSource from a resolved Source. The
// source must carry a service principal credential.
func NewTokenSource(s *Source, scope string) (*TokenSource, error) {
	if !s.HasServicePrincipal() {
		return nil, errors.New("auth: token source requires service principal credentials, not a SAS token")
	}
	return &TokenSource{cred: s.TokenCredential(), scope: scope}, nil
}

// Token returns a valid bearer token, fetching a fresh one if the
// cached token is missing or about to expire.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.tok.Token != "" && time.Now().Add(tokenSlack).Before(ts.tok.ExpiresOn) {
		return ts.tok.Token, nil
	}

	tok, err := ts.cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{ts.scope},
	})
	if err != nil {
		return "", err
	}
	ts.tok = tok
	return tok.Token, nil
}

// Invalidate drops the cached token so the next Token call re-fetches.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.tok = azcore.AccessToken{}
	ts.mu.Unlock()
}
