package embedding

import (
	"context"

	"github.com/google/generative-ai-go/genai"
	genaiopt "google.golang.org/api/option"
)

type GoogleEmbedder struct {
	client *genai.Client
	model  string
	dims   int
}

func NewGoogleEmbedder(ctx context.Context, apiKey, model string, dims int) (*GoogleEmbedder, error) {
	client, err := genai.NewClient(ctx, genaiopt.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GoogleEmbedder{client: client, model: model, dims: dims}, nil
}

func (e *GoogleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	rsp, err := e.client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if rsp == nil || rsp.Embedding == nil {
		return checkDims("google", nil, e.dims)
	}
	return checkDims("google", rsp.Embedding.Values, e.dims)
}

func (e *GoogleEmbedder) Close() error {
	return e.client.Close()
}
