// Package services assembles mailsmith's components from configuration.
//
// Build constructs the storage gateway, embedder, similarity index,
// retriever, background indexer, generation provider and workflow engine,
// and hands them to an assistant.Assistant. The resulting Registry exposes
// each component to the transport layer and owns their shutdown order.
package services
