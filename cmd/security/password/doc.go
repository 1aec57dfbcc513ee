// Package password hashes and verifies account passwords with Argon2id.
//
// Encoded hashes use the PHC string format:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Hash strings are untrusted input during Verify: parameters far above the
// configured cost are rejected before any key derivation runs.
package password
