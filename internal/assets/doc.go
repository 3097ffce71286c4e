// Package assets serves files from the project for requests no proxy rule
// claims.
package assets
