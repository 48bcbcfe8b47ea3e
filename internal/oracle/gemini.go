package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"driftnote/internal/notes"
	logx "driftnote/pkg/logx"
)

const maxReplyBytes = 1 << 20

// Gemini calls a generateContent endpoint once per Mutate.
type Gemini struct {
	cfg     Config
	hc      *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

// NewGemini builds the client. A nil hc gets a client with cfg.Timeout.
func NewGemini(cfg Config, hc *http.Client, log logx.Logger) *Gemini {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gemini{cfg: cfg, hc: hc, log: log}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return g
}

// Mutate rewrites content at the given rate. The title is returned unchanged.
// Any failure is logged and the originals are returned.
func (g *Gemini) Mutate(ctx context.Context, title, content string, r notes.ChangeRate) (string, string) {
	start := time.Now()
	out, err := g.Rewrite(ctx, content, r)
	if err != nil {
		g.log.Warn("oracle failed; leaving entry unchanged", logx.String("rate", r.String()), logx.Err(err))
		return title, content
	}
	g.log.Debug("oracle rewrote content", logx.String("rate", r.String()), logx.Duration("took", time.Since(start)))
	return title, out
}

type generateRequest struct {
	Contents []genContent `json:"contents"`
}

type genContent struct {
	Parts []genPart `json:"parts"`
}

type genPart struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content genContent `json:"content"`
	} `json:"candidates"`
}

// Rewrite is the error-returning core of Mutate.
func (g *Gemini) Rewrite(ctx context.Context, content string, r notes.ChangeRate) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(generateRequest{
		Contents: []genContent{{Parts: []genPart{{Text: buildPrompt(content, r)}}}},
	})
	if err != nil {
		return "", err
	}
	endpoint := strings.TrimRight(g.cfg.Endpoint, "/") + "/models/" + url.PathEscape(g.cfg.Model) + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("oracle http %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}
	var text strings.Builder
	if len(gr.Candidates) > 0 {
		for _, p := range gr.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("oracle reply has no text")
	}
	return parseReply(text.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
