// Package crawler defines the core types, interfaces, and sentinel errors shared by the
// indexing pipeline, the storage backends, and the search engine.
package crawler
