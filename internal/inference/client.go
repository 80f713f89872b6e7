// Package inference calls the external violence classifier.
package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/vdetect/streamguard/internal/logger"
	"github.com/vdetect/streamguard/pkg/types"
)

// ErrUnavailable marks an unreachable or failing inference backend.
// Callers treat it as a transient non-event, never a fatal error.
var ErrUnavailable = errors.New("inference backend unavailable")

// Client is a synchronous HTTP client for the inference backend.
// Connect is lazy and idempotent; a failed call triggers exactly one
// reconnect before giving up on the current window.
type Client struct {
	baseURL string
	model   string
	version string

	mu        sync.Mutex
	http      *http.Client
	connected bool
}

// NewClient returns an unconnected client for the given backend.
func NewClient(baseURL, model, version string) *Client {
	return &Client{
		baseURL: baseURL,
		model:   model,
		version: version,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Connect verifies the backend is ready. Idempotent.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	if c.connected {
		return nil
	}
	resp, err := c.http.Get(c.baseURL + "/v2/health/ready")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: readiness status %d", ErrUnavailable, resp.StatusCode)
	}
	c.connected = true
	logger.Info("Inference", "Connected to backend at %s", c.baseURL)
	return nil
}

// IsHealthy reports whether the backend currently answers its readiness
// probe.
func (c *Client) IsHealthy() bool {
	resp, err := c.http.Get(c.baseURL + "/v2/health/ready")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Reset invalidates the connection so the next Predict reconnects.
func (c *Client) Reset() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

type inferTensor struct {
	Name     string    `json:"name"`
	Shape    []int     `json:"shape,omitempty"`
	Datatype string    `json:"datatype,omitempty"`
	Data     []float32 `json:"data,omitempty"`
}

type inferRequest struct {
	Inputs  []inferTensor `json:"inputs"`
	Outputs []inferTensor `json:"outputs"`
}

type inferResponse struct {
	Outputs []inferTensor `json:"outputs"`
}

// Predict runs the classifier over an ordered full window of frames and
// returns the violence probability together with the event flag derived
// from the caller-supplied threshold (strictly greater than). On failure
// it attempts one reconnect; if that also fails it returns a no-detection
// result alongside ErrUnavailable.
func (c *Client) Predict(window []*types.Frame, threshold float64) (bool, float64, error) {
	prob, err := c.infer(window)
	if err != nil {
		c.Reset()
		if err = c.Connect(); err == nil {
			prob, err = c.infer(window)
		}
	}
	if err != nil {
		c.Reset()
		return false, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return prob > threshold, prob, nil
}

func (c *Client) infer(window []*types.Frame) (float64, error) {
	c.mu.Lock()
	if err := c.connectLocked(); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	c.mu.Unlock()

	data := make([]float32, 0, len(window)*types.FrameLen)
	for _, f := range window {
		data = append(data, f.Data...)
	}

	reqBody := inferRequest{
		Inputs: []inferTensor{{
			Name:     "input",
			Shape:    []int{1, len(window), types.FrameChannels, types.FrameHeight, types.FrameWidth},
			Datatype: "FP32",
			Data:     data,
		}},
		Outputs: []inferTensor{{Name: "output"}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/v2/models/%s/versions/%s/infer", c.baseURL, c.model, c.version)
	resp, err := c.http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("infer status %d", resp.StatusCode)
	}

	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	if len(out.Outputs) == 0 || len(out.Outputs[0].Data) < 2 {
		return 0, fmt.Errorf("malformed inference response")
	}

	// Softmax over the [no_violence, violence] raw scores.
	scores := out.Outputs[0].Data
	e0 := math.Exp(float64(scores[0]))
	e1 := math.Exp(float64(scores[1]))
	return e1 / (e0 + e1), nil
}
