// Package vault stores per-user third-party service credentials encrypted at rest.
//
// Credentials are JSON-encoded maps sealed with XChaCha20-Poly1305 under a
// single process-wide key. The key is resolved once at startup (see ResolveKey)
// and handed to New; the vault never reads configuration itself.
//
// Only this package sees plaintext. Everything else (listing, status) works
// on metadata.
//
// There is no cache: every Fetch re-reads and re-decrypts the row.
package vault
