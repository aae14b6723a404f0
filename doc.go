// Package credentials manages the full credential and session lifecycle:
// password, magic-link, and OTP authentication, TOTP second factors with
// backup codes, and multi-device refresh sessions.
//
// Authentication:
//   - CredentialProvider verifies passwords and applies the lockout policy:
//     repeated failures lock the account for a window, and a lock that has
//     already lapsed grants amnesty instead of compounding.
//   - Authenticator drives the flows end to end. A password check on a
//     two-factor account yields an intermediate token that only the
//     challenge endpoint accepts; magic-link redemption proves mailbox
//     control and grants a session directly.
//
// Tokens:
//   - TokenService mints typed JWTs (access, refresh, two_factor) and
//     refuses a token presented outside its type.
//   - EphemeralToken covers the single-use expiring tokens: email
//     verification, password reset, magic links, and phone OTPs. Redemption
//     is exactly-once via conditional updates.
//
// Sessions:
//   - SessionRegistry tracks refresh credentials per identity and device.
//     Refresh rotates the credential atomically; replaying a rotated value
//     revokes every session for the identity. Bun, Redis, and in-memory
//     implementations are provided.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used across the package
//     to describe login, lockout, verification, and session events. Sinks
//     run best-effort (errors are logged) so you can forward to a database
//     or queue without blocking authentication.
package credentials
