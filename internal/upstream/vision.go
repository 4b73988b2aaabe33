package upstream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const visionTimeout = 30 * time.Second

// Classification is the best label the classifier found for an image.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier maps image bytes onto a label with a confidence in [0,1].
type Classifier interface {
	Classify(ctx context.Context, imageBytes []byte) (*Classification, error)
}

// GoogleVisionClassifier calls the Vision annotate endpoint with label
// detection and returns the highest-scoring label.
type GoogleVisionClassifier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewGoogleVisionClassifier(baseURL, apiKey string) *GoogleVisionClassifier {
	return &GoogleVisionClassifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: visionTimeout},
	}
}

type annotateRequest struct {
	Requests []struct {
		Image struct {
			Content string `json:"content"`
		} `json:"image"`
		Features []struct {
			Type       string `json:"type"`
			MaxResults int    `json:"maxResults"`
		} `json:"features"`
	} `json:"requests"`
}

type annotateResponse struct {
	Responses []struct {
		LabelAnnotations []struct {
			Description string  `json:"description"`
			Score       float64 `json:"score"`
		} `json:"labelAnnotations"`
	} `json:"responses"`
}

func (c *GoogleVisionClassifier) Classify(ctx context.Context, imageBytes []byte) (*Classification, error) {
	var reqBody annotateRequest
	reqBody.Requests = make([]struct {
		Image struct {
			Content string `json:"content"`
		} `json:"image"`
		Features []struct {
			Type       string `json:"type"`
			MaxResults int    `json:"maxResults"`
		} `json:"features"`
	}, 1)
	reqBody.Requests[0].Image.Content = base64.StdEncoding.EncodeToString(imageBytes)
	reqBody.Requests[0].Features = []struct {
		Type       string `json:"type"`
		MaxResults int    `json:"maxResults"`
	}{{Type: "LABEL_DETECTION", MaxResults: 20}}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal annotate request: %w", err)
	}

	url := c.baseURL + "/images:annotate?key=" + c.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create annotate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision returned status %d", resp.StatusCode)
	}

	var out annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode annotate response: %w", err)
	}
	if len(out.Responses) == 0 || len(out.Responses[0].LabelAnnotations) == 0 {
		return nil, errors.New("vision response has no labels")
	}

	best := out.Responses[0].LabelAnnotations[0]
	for _, l := range out.Responses[0].LabelAnnotations[1:] {
		if l.Score > best.Score {
			best = l
		}
	}
	return &Classification{Label: best.Description, Confidence: best.Score}, nil
}
