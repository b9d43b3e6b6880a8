// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package credentials yields valid mailbox credentials. Callers never see
// refresh mechanics: a provider returns either a currently valid credential
// or an error.
package credentials

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Kind distinguishes how a credential authenticates.
type Kind int

const (
	// KindPassword is a static username/password pair for plain IMAP LOGIN.
	KindPassword Kind = iota
	// KindBearer is an OAuth2 access token for SASL OAUTHBEARER.
	KindBearer
)

// Credential is a currently valid credential for one account.
type Credential struct {
	Kind     Kind
	Username string
	Secret   string // password or bearer token, depending on Kind
}

// Provider yields a valid credential, refreshing internally as needed.
type Provider interface {
	GetValidCredential(ctx context.Context) (Credential, error)
}

// Static is a password provider with no refresh semantics.
type Static struct {
	username string
	password string
}

// NewStatic creates a static password provider.
func NewStatic(username, password string) *Static {
	return &Static{username: username, password: password}
}

// GetValidCredential returns the configured password credential.
func (s *Static) GetValidCredential(_ context.Context) (Credential, error) {
	if s.username == "" || s.password == "" {
		return Credential{}, fmt.Errorf("account has no username/password configured")
	}
	return Credential{Kind: KindPassword, Username: s.username, Secret: s.password}, nil
}

// OAuth2 acquires bearer tokens via the client-credentials grant. The token
// source caches the token and refreshes it before expiry.
type OAuth2 struct {
	username string
	source   oauth2.TokenSource
}

// NewOAuth2 creates a provider backed by a client-credentials token source.
func NewOAuth2(ctx context.Context, username string, cfg clientcredentials.Config) *OAuth2 {
	return &OAuth2{
		username: username,
		source:   cfg.TokenSource(ctx),
	}
}

// GetValidCredential returns a bearer credential with a live access token.
func (o *OAuth2) GetValidCredential(_ context.Context) (Credential, error) {
	tok, err := o.source.Token()
	if err != nil {
		return Credential{}, fmt.Errorf("acquire oauth2 token for %s: %w", o.username, err)
	}
	return Credential{Kind: KindBearer, Username: o.username, Secret: tok.AccessToken}, nil
}
