// Package memory is a small local semantic memory index.
//
// Each account has its own set of records (text, embedding vector, metadata)
// held in memory and persisted through the memories storage adapter. Queries
// embed the text and rank every record by cosine similarity; a linear scan is
// fine at tens to low thousands of records per account.
//
// Every record stores the model tag of the embedder that produced it. Load
// keeps records from another model or dimensionality out of ranking, since
// their vectors cannot be compared, but they are written back with every save.
//
// Embedding failures are returned to the caller and nothing is stored.
// Persistence failures are logged, matching the storage adapters.
package memory
