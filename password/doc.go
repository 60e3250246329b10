// Package password hashes and verifies account passwords with Argon2id.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced under weaker parameters so the
// caller can rehash after the next successful login. The minimum length policy
// lives here as well; callers never see plaintext stored anywhere.
package password
