// Package handler implements the dev server's HTTP handler. It answers the
// dev server's own endpoints, forwards requests claimed by a proxy rule and
// serves everything else from the project.
package handler
