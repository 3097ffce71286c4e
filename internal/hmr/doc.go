// Package hmr pushes reload notifications to browsers over Server-Sent
// Events. Pages load the client script from /@vite/client, which subscribes
// to the event stream and either reloads the page or refreshes stylesheets.
package hmr
