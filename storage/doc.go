// Package storage defines the persistence contracts of the gateway: clients,
// authorization codes, access tokens, user profiles and the protocol session
// audit trail.
//
// Secrets never reach a store in clear. Client secrets, codes and tokens
// are stored as security.HashCredential digests, and lookups are by digest.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-process maps, for development and tests
//   - storage/postgres: PostgreSQL via pgx, with goose migrations
package storage
