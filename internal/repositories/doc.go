// Package repositories implements the SQLite catalog store.
//
// Each repository wraps one table and uses raw SQL:
//   - [UserRepository] : library owners keyed by their remote catalog id
//   - [TrackRepository] : catalog tracks, embeddings and nearest-neighbour queries
//   - [LibraryRepository] : the user_tracks ownership relation
//   - [JobRepository] : job runner state
//
// [Catalog] bundles the user, track and library repositories behind the method
// set the ingestion and similarity engines consume. Embeddings are stored as
// little-endian float32 blobs and compared in SQL with the cosine_distance
// function registered by [shared.NewDatabase].
package repositories
