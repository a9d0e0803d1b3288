package vectorstore

import (
	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/pluginregistry"
)

// Factories is the standard kind -> compat.VectorStore factory table,
// passed as pluginregistry.Options.VectorCompat by both binaries (§6).
// chromem is the zero-config default: it requires no external service.
func Factories() map[string]pluginregistry.VectorCompatFactory {
	return map[string]pluginregistry.VectorCompatFactory{
		"qdrant":   func() compat.VectorStore { return &QdrantCompat{} },
		"pinecone": func() compat.VectorStore { return &PineconeCompat{} },
		"chromem":  func() compat.VectorStore { return &ChromemCompat{} },
	}
}
