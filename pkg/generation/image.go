package generation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultImageBaseURL is the prompt-to-image service used when no override
// is configured.
const DefaultImageBaseURL = "https://image.pollinations.ai/prompt"

// ImageGenerator fetches rendered images from a prompt-to-image HTTP
// service and stores them as local files for upload.
type ImageGenerator struct {
	httpClient *http.Client
	baseURL    string
	outputDir  string
}

// NewImageGenerator creates a generator writing images under outputDir.
// baseURL may be empty to use the default service.
func NewImageGenerator(baseURL, outputDir string) (*ImageGenerator, error) {
	if outputDir == "" {
		return nil, fmt.Errorf("image output directory is required")
	}
	if baseURL == "" {
		baseURL = DefaultImageBaseURL
	}
	return &ImageGenerator{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		outputDir:  outputDir,
	}, nil
}

// GenerateImage renders the prompt and returns the path of the saved file.
func (g *ImageGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", &Error{Op: "generate image", Err: ErrEmptyContent}
	}

	target := fmt.Sprintf("%s/%s?width=1024&height=1024&nologo=true", g.baseURL, url.PathEscape(prompt))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", &Error{Op: "generate image", Err: err}
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", &Error{Op: "generate image", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &Error{Op: "generate image", Err: fmt.Errorf("service returned status %d", resp.StatusCode)}
	}

	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return "", &Error{Op: "generate image", Err: err}
	}
	path := filepath.Join(g.outputDir, fmt.Sprintf("generated_%d.png", time.Now().UnixNano()))

	f, err := os.Create(path)
	if err != nil {
		return "", &Error{Op: "generate image", Err: err}
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", &Error{Op: "generate image", Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &Error{Op: "generate image", Err: err}
	}
	return path, nil
}
