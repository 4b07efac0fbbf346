// Package cognitive implements a cognitive memory engine for long-running
// assistants.
//
// Experiences (snippets, markdown documents, commit messages) are encoded
// into fused vectors (semantic embedding + extracted cognitive dimensions),
// organized into a three-level hierarchy (L0 concepts, L1 contexts,
// L2 episodes) with an explicit associative graph, and retrieved by
// combining direct similarity, spreading activation over the graph, and
// bridge discovery.
//
// Architecture:
//   - Embedder: text-to-vector conversion (ONNX for local use, mock for tests)
//   - Encoder: fuses the semantic vector with extracted dimensions
//   - VectorIndex: cosine-similarity storage across the three level collections
//   - MetadataStore: source of truth for memories, the graph, caches, stats
//   - System: façade composing store, recall, consolidate, stats
//
// Retrieval flow:
//   - Seed: per-collection similarity searches produce the initial frontier
//   - Spread: breadth-first activation over the connection graph
//   - Bridge: score unactivated memories by novelty x connection potential
//
// A dual-memory consolidation loop promotes frequently accessed episodic
// memories into semantic ones and decays or evicts the rest. A file sync
// engine (package sync) keeps the stores aligned with a watched content
// tree through atomic delete-and-reload.
package cognitive
