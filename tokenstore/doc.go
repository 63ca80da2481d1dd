// Package tokenstore persists purpose-scoped token records per user.
//
// A record is addressed by (user, provider, purpose) and holds an opaque
// string. Two backends are provided: [RedisStore] (WATCH/MULTI optimistic
// transactions) and [GormStore] (SQL transaction plus version check). Both
// implement [Store] with the same semantics.
//
// # Architecture boundaries
//
// This package knows nothing about codes, secrets or users. Providers in the
// providers package decide what a record contains.
package tokenstore
