// Package server provides HTTP routing, middleware, the JSON job API and OAuth login handling.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method+path patterns, so handlers read
// path wildcards with [http.Request.PathValue].
//
// # JSON API
//
// [API] enqueues ingestion and playlist jobs (202 with a job id), reports job status, lists a
// user's encoded tracks and answers per-user similarity queries. Domain errors map to status codes
// in [StatusFor]: not found is 404, a failed precondition is 409, bad input is 400.
//
// # OAuth Callback Handlers
//
// [OAuthHandler] completes one authorization code callback and reports the stored user through a
// channel; the CLI runs it on a temporary localhost server. [LoginHandler] serves /login and
// /callback for any number of users on the long-running server.
//
// Both validate the state parameter, exchange the code and upsert the user with the new
// credential.
package server
