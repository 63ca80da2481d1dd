// Package password hashes and verifies sign-in passwords with argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsRehash] reports hashes made with weaker parameters so a host
// can re-hash after the next successful sign-in. [Hasher.DummyHash] gives
// the sign-in flow something to verify against when the user does not exist.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other goMFA package.
//   - Log plaintext passwords.
package password
