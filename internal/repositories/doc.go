// package repositories provides the persistence layer for the indexing
// pipeline.
//
// Every repository is constructed over a [DBTX], so the same code runs
// against a bare *sql.DB or inside a *sql.Tx. Mutations that shared rows
// depend on (page inserts, result inserts, artist tallies) are written as
// conditional inserts or upserts; concurrent duplicate deliveries are
// resolved by unique-constraint conflicts, never application locks.
package repositories
