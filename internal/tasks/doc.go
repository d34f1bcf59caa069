// Package tasks implements the three long-running operations of soundalike
// with progress reporting through a [progress.Channel].
//
// # Operations
//
//  1. [IngestEngine.Ingest] : library ingestion
//     - Pages through the user's saved tracks
//     - Links tracks that are already encoded anywhere without touching audio
//     - Resolves preview clips for the rest in one batch
//     - Downloads, canonicalizes and embeds each clip, one track at a time
//
//  2. [SimilarityEngine.FindSimilar] : nearest neighbours of a seed track
//     - Ordered by cosine distance, ties broken by track id
//     - Seeds without an embedding fail with [shared.ErrNoEmbedding] before any query
//
//  3. [PlaylistEngine.GeneratePlaylist] : private playlist from a seed track
//     - finding_similar, spotify_auth, creating_playlist, adding_tracks, finished
//
// # Failure Model
//
// Per-track problems (no preview, fetch, decode or embedding errors) skip the
// track and are counted in metrics. Anything that makes the run meaningless
// (unknown user, remote pagination failure, store failure) publishes a failed
// record and is returned to the job runner.
//
// # Progress Reporting
//
// Publishing never fails a run. A channel error is logged and the run goes on;
// the job runner's own state stays authoritative.
package tasks
