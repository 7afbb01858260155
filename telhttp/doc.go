// Package telhttp connects a telescope to net/http.
//
// Middleware records incoming requests, and correlates everything recorded
// while handling them. NewTransport and Instrument record outgoing requests
// made with an http.Client. Server and StreamServer serve recorded entries
// as JSON and as server-sent events, and Client and StreamClient read them
// back from a remote process.
package telhttp
