package models

const (
	MaxItemsPerRequest  = 2048
	MaxTokensPerRequest = 300_000

	DefaultMaxDistance    = 1.0
	DefaultTopK           = 5
	DefaultCollectionName = "pdf_chunk_collection"
	DefaultDBPath         = "chroma_db"

	ContextSeparator = "\n---\n"
	ThinkTag         = `(?s)<think>.*?</think>`
)

// metadata keys persisted with every unit
const (
	MetaSource     = "source"
	MetaPageNumber = "page_number"
	MetaType       = "type"
	MetaBase64     = "base_64"
	MetaMIMEType   = "image_mime_type"
)

var (
	// RAGPromptTemplate uses f-string placeholders; both slots must stay in this order.
	RAGPromptTemplate = `Use the following pieces of context and images if there are to answer the question at the end. Keep the answer as concise as possible.

Context: {context}

Question: {question}

Helpful Answer:`

	ImageSummaryPrompt = `Provide a concise summary of the provided image. Ensure the summary covers all key points and main ideas, without including external information.`
)
