// Package secret supplies the passphrase that protects stored credentials.
//
// Providers are consulted in order:
//   - Env: a passphrase injected through the environment (TOKEN_ENCRYPTION_KEY)
//   - Keyring: a passphrase kept in the OS credential store, managed outside this program
//   - Insecure: a fixed development passphrase, never offered in production mode
package secret
