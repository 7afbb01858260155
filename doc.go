// Package telescope records what a program does while it serves requests:
// the incoming requests themselves, the outgoing HTTP calls and database
// queries made on their behalf, the logs they write, and the errors and panics
// they hit.
//
// Every recorded observation is an entry. Entries recorded while a request is
// being served carry the id of that request as their parent, so the complete
// story of one request can be reassembled later, even when many requests are
// in flight at once. The request identity travels in the [context.Context]
// passed through the program, see [WithRequest] and [RequestID]; there is no
// global "current request".
//
// Entries are kept in memory, in one capacity-bounded collection per
// [Category]. When a collection is full, the oldest entry is evicted to make
// room for the newest. Nothing is persisted, so a restart loses all data.
//
// Applications construct one [Telescope] at startup and pass it to the
// integrations that record entries: the HTTP middleware and transport in
// [github.com/peterbourgon/telescope/telhttp], the database adapters in
// telsql and telpgx, and the logging adapters in telslog and telzerolog.
package telescope
