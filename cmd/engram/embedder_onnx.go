//go:build onnx

package main

import (
	"log"
	"os"

	"github.com/engramdb/engram/cognitive"
	"github.com/engramdb/engram/cognitive/embedder/onnx"
)

// newEmbedder loads the ONNX sentence transformer configured through the
// environment. Model load failure is fatal at startup.
func newEmbedder() cognitive.Embedder {
	embedder, err := onnx.New(onnx.Config{
		ModelPath:     os.Getenv("EMBEDDING_MODEL_PATH"),
		TokenizerPath: os.Getenv("EMBEDDING_TOKENIZER_PATH"),
	})
	if err != nil {
		log.Fatalf("[SYSTEM] load embedding model: %v", err)
	}
	return embedder
}
