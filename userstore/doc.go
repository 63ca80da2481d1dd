// Package userstore is a GORM implementation of goMFA.UserRepository.
//
// The same Repository runs on SQLite (tests, demos) and Postgres. Postgres
// connections go through a pgx pool handed to GORM as a *sql.DB.
//
// Lockout counters are not stored here; goMFA keeps them in Redis. This
// package only persists the user row: credentials, MFA flags, the lockout
// end and the last sign-in time.
package userstore
