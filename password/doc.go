// Package password hashes and verifies account passwords with argon2id.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.Matches] always uses the parameters embedded in the stored hash, so
// cost can be raised without invalidating existing credentials;
// [Argon2.NeedsRehash] tells the caller when to re-hash after a successful
// login.
//
// # What this package must NOT do
//
//   - Store or look up passwords.
//   - Import any other authcore package.
//   - Log plaintext passwords.
package password
