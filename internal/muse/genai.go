package muse

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/genai"
)

// Request is one text generation call.
type Request struct {
	Model  string
	Prompt string
	// Search grounds the answer with web search and returns its links.
	Search bool
}

// Link is a grounding source of an answer.
type Link struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

type Answer struct {
	Text  string `json:"text"`
	Links []Link `json:"groundingLinks,omitempty"`
}

// Image is generated picture bytes.
type Image struct {
	MIMEType string
	Data     []byte
}

// DataURL renders the image for an <img src>, or "" when empty.
func (i Image) DataURL() string {
	if len(i.Data) == 0 {
		return ""
	}
	mime := i.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Generator is the generative model boundary.
type Generator interface {
	GenerateText(ctx context.Context, req Request) (Answer, error)
	GenerateImage(ctx context.Context, model, prompt string) (Image, error)
}

// GenAI calls the Gemini API.
type GenAI struct {
	client *genai.Client
}

func NewGenAI(ctx context.Context, apiKey string) (*GenAI, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAI{client: client}, nil
}

func (g *GenAI) GenerateText(ctx context.Context, req Request) (Answer, error) {
	var cfg *genai.GenerateContentConfig
	if req.Search {
		cfg = &genai.GenerateContentConfig{
			Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		}
	}
	resp, err := g.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return Answer{}, fmt.Errorf("generate text with %s: %w", req.Model, err)
	}

	ans := Answer{Text: resp.Text()}
	for _, cand := range resp.Candidates {
		if cand.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk != nil && chunk.Web != nil && chunk.Web.URI != "" {
				ans.Links = append(ans.Links, Link{URI: chunk.Web.URI, Title: chunk.Web.Title})
			}
		}
	}
	return ans, nil
}

func (g *GenAI) GenerateImage(ctx context.Context, model, prompt string) (Image, error) {
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		return Image{}, fmt.Errorf("generate image with %s: %w", model, err)
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return Image{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data}, nil
			}
		}
	}
	return Image{}, nil
}
