// Package embeddings turns chatbot query text into dense vectors for cache
// search. The primary provider is a TEI-compatible HTTP service; a static
// provider generates deterministic vectors for development and tests.
//
// Providers are selected by configuration:
//
//	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
//		Provider: "tei",
//		BaseURL:  "http://localhost:8080",
//		Model:    "BAAI/bge-small-en-v1.5",
//	})
//
// All providers report their dimensionality so callers can validate vectors
// against a cache scope before inserting.
package embeddings
