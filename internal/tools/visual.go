package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// visualTimeout bounds the detached generation request. Image endpoints
// commonly take tens of seconds.
const visualTimeout = 120 * time.Second

// VisualReady is invoked with the generated image URL once a detached
// generation completes.
type VisualReady func(url string)

// GenerateVisual starts image generation and returns a placeholder
// immediately. The actual request runs as a detached task that later
// delivers the URL through the VisualReady callback; blocking a spoken turn
// on a multi-second render would break the real-time budget.
//
// The detached task outlives the tool call on purpose: teardown of the turn
// must not cancel a render the user is already waiting on.
type GenerateVisual struct {
	client   *http.Client
	endpoint string
	apiKey   string
	onReady  VisualReady
	log      *slog.Logger
}

var _ Tool = (*GenerateVisual)(nil)

// NewGenerateVisual builds the generate_visual tool. A nil onReady callback
// turns delivery into a silent no-op.
func NewGenerateVisual(client *http.Client, endpoint, apiKey string, onReady VisualReady, logger *slog.Logger) *GenerateVisual {
	if client == nil {
		client = &http.Client{Timeout: visualTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateVisual{
		client:   client,
		endpoint: endpoint,
		apiKey:   apiKey,
		onReady:  onReady,
		log:      logger.With("tool", "generate_visual"),
	}
}

func (g *GenerateVisual) Name() string { return "generate_visual" }

func (g *GenerateVisual) Description() string {
	return "Generate educational visuals, diagrams, or infographics. Use GENEROUSLY to visualize and clarify complex topics! Especially create visuals for: scientific processes (photosynthesis, cells, reactions), historical timelines, comparison tables, anatomy and geographical structures, mathematical concepts, flowcharts and process maps. Visual generation boosts learning — use proactively!"
}

func (g *GenerateVisual) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "A clear, detailed English image generation prompt. Describe the visual: layout, labels, colors, style. Example: 'Educational diagram of photosynthesis process, showing sunlight, water, CO2 inputs and glucose, oxygen outputs, clean flat illustration style, labeled arrows, white background'",
			},
		},
		"required": []string{"prompt"},
	}
}

// Execute implements Tool. It returns before the image exists.
func (g *GenerateVisual) Execute(ctx context.Context, args map[string]any) (string, error) {
	prompt := stringArg(args, "prompt")
	if prompt == "" {
		return "No image prompt provided", nil
	}
	if g.endpoint == "" {
		return "Visual generation is not configured", nil
	}

	go g.generate(prompt)
	return "Visual generation started; the image will appear in a moment.", nil
}

// generate runs detached from the turn that triggered it.
func (g *GenerateVisual) generate(prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), visualTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"prompt":        prompt,
		"image_size":    "1536x1024",
		"quality":       "high",
		"num_images":    1,
		"output_format": "png",
	})
	if err != nil {
		g.log.Warn("visual request encode failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		g.log.Warn("visual request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Key "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Warn("visual generation failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		g.log.Warn("visual generation failed", "status", resp.StatusCode)
		return
	}

	var out struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		g.log.Warn("visual response decode failed", "error", err)
		return
	}
	if len(out.Images) == 0 || out.Images[0].URL == "" {
		g.log.Warn("visual generation returned no URL")
		return
	}

	g.log.Info("visual generated", "url", out.Images[0].URL)
	if g.onReady != nil {
		g.onReady(out.Images[0].URL)
	}
}
