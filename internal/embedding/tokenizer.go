package embedding

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// Tokenizer counts tokens the way the embedding model bills them
type Tokenizer interface {
	CountTokens(text string) int
}

type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer picks the encoding of model, falling back to
// cl100k_base for models tiktoken does not know (text-embedding-3-*, ollama).
func NewTiktokenTokenizer(model string) (*TiktokenTokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		log.Debug().Str("model", model).Msg("No tokenizer for model, using cl100k_base")
		enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer: %w", err)
		}
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) CountTokens(text string) int {
	return len(t.enc.EncodeOrdinary(text))
}
