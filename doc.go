// Package auth implements account lifecycle flows behind a bearer token API.
//
// Ephemeral tokens:
//   - TokenManager issues single-use, time-boxed tokens for email verification
//     and password reset. Issuing replaces any outstanding token of the same
//     purpose for that user, and Consume succeeds at most once per token.
//   - TokenStore implementations live in memory, in SQL (Bun) and in redis
//     (see tokenstore/redisstore). All must pass tokenstore/storetest.
//
// Bearer tokens:
//   - TokenService signs HS256 JWTs whose subject is the user email. Decode
//     accepts only tokens with a valid signature, a subject and an expiry.
//
// Request gate:
//   - Gate resolves a bearer credential to a Principal. It never rejects a
//     request itself: malformed, expired or unknown credentials leave the
//     request anonymous and handlers decide with RequireIdentity/RequireRole.
//     Allow-listed paths skip token work entirely.
//
// User lifecycle:
//   - Users move through PENDING_VERIFICATION, ACTIVE, LOCKED and INACTIVE.
//     UserStateMachine owns the transition graph and records an ActivityEvent
//     for every move.
//   - Flows bundles the command handlers (register, verify, reset, profile,
//     lock/unlock, external login). Each handler validates with ozzo-validation
//     and reports failures as go-errors values mapped to HTTP by StatusFor.
package auth
