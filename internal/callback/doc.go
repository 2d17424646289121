// Package callback runs the short-lived loopback HTTP server that receives the
// OAuth2 authorization redirect.
//
// The listener accepts exactly one outcome: a request carrying code or error
// (with the expected state, when one is set). Anything else is answered with 400
// and the listener keeps waiting. After an outcome is delivered the server shuts
// itself down.
package callback
