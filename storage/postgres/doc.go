// Package postgres implements storage.Store on PostgreSQL with pgx.
//
// The store talks to the database through the small DB interface, which
// *pgxpool.Pool satisfies. Authorization codes are consumed with a single
// conditional UPDATE, so the row-level lock taken by PostgreSQL decides
// which of several concurrent exchanges wins.
//
// The schema is managed with goose. Migrations are embedded in the binary:
//
//	if err := postgres.Migrate(ctx, databaseURL); err != nil {
//		return err
//	}
//	pool, err := postgres.NewPool(ctx, databaseURL)
//	if err != nil {
//		return err
//	}
//	store := postgres.New(pool)
package postgres
