package embedding

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

type OpenAIEmbedder struct {
	client openai.Client
	model  string
	dims   int
}

// NewOpenAIEmbedder builds an embedder for model. dims is the size the
// vector index expects; text-embedding-3 models are asked for it directly.
func NewOpenAIEmbedder(apiKey, model string, dims int, opts ...option.RequestOption) *OpenAIEmbedder {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		model:  model,
		dims:   dims,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}
	if strings.HasPrefix(e.model, "text-embedding-3") && e.dims > 0 {
		params.Dimensions = openai.Int(int64(e.dims))
	}

	rsp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(rsp.Data) == 0 {
		return checkDims("openai", nil, e.dims)
	}

	values := make([]float32, len(rsp.Data[0].Embedding))
	for i, v := range rsp.Data[0].Embedding {
		values[i] = float32(v)
	}
	return checkDims("openai", values, e.dims)
}
