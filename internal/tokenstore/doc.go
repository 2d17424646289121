// Package tokenstore persists one encrypted token record per identity.
//
// Supports three storage backends with different security and deployment tradeoffs:
//   - File: Local filesystem storage with atomic writes and owner-only permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Env: Read-only static access token from an environment variable
//
// Load never fails on an unreadable record: a missing, undecryptable or malformed
// record is reported as absent so the caller re-authorizes instead of crashing.
// Save failures, in contrast, are always returned and wrap credential.ErrTokenStorage.
package tokenstore
