//go:build !onnx

package main

import (
	"github.com/engramdb/engram/cognitive"
	"github.com/engramdb/engram/cognitive/embedder/mock"
)

// newEmbedder returns the deterministic embedder. Build with the onnx tag
// for real sentence embeddings.
func newEmbedder() cognitive.Embedder {
	return mock.New(384)
}
