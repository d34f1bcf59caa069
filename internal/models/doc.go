// Package models defines the domain entities shared by the soundalike catalog,
// ingestion pipeline and job runner.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): values read from the remote music catalog
//   - [SavedTrack] : one entry of a user's saved-track library
//   - [Neighbor] : one result of a similarity query
//
// 2. Persistent Entities: rows owned by the catalog store and job runner
//   - [User] : a library owner and the credential used to read their library
//   - [Track] : a catalog track, optionally carrying its audio embedding
//   - [Job] : an enqueued ingestion or playlist job and its runner state
package models
