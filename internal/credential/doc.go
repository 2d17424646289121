// Package credential defines the token record persisted for each identity and the
// error taxonomy shared by the credential lifecycle packages.
//
// A TokenRecord is either absent or complete: Decode validates the decrypted JSON
// projection before handing it out, so callers never see a half-populated record.
package credential
