// Package testutil provides testing utilities and fixtures for the gateway
// packages: a controllable clock, quiet loggers, PKCE pairs and test data.
package testutil
