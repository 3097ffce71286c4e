// Package route decides which requests leave the dev server. A Table holds
// the proxy rules in declaration order; the first rule whose pattern matches
// the request path wins. Patterns that start with ^ are regular expressions
// with ECMAScript semantics, so lookahead exclusions such as
// ^/(?!@vite|resources) behave the same as in a JavaScript bundler config.
// Any other pattern is a literal path prefix.
package route
