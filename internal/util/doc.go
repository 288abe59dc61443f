// Package util provides small helpers shared by the gateway packages.
//
// Key utilities:
//   - SafeTruncate: shortens credentials to a loggable prefix
//   - NormalizeURL: trims trailing slashes so issuer URLs compose cleanly
package util
