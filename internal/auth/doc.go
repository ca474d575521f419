// Package auth provides accounts and bearer-token authentication for
// Divert Core.
//
// It implements a two-tier role model (user → admin) with:
//   - Argon2id password hashing in PHC string format
//   - Stateless HS256 JWT access tokens carrying the user ID and role
//   - Static role-permission mapping (compile-time, no database lookup)
//   - Self-service registration and a seeded first admin
//
// Users own their subscriptions, credentials and execution history; admins
// additionally trigger catalog syncs and read the audit trail.
package auth
