// Package google provides a Google OAuth 2.0 provider implementation.
//
// Login uses the authorization code flow with PKCE. User information comes
// from Google's OpenID Connect userinfo endpoint. Default scopes are
// "openid", "email" and "profile".
package google
