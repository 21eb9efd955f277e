package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VCBorges/automatizai-challenge/internal/extraction"
	"github.com/VCBorges/automatizai-challenge/internal/models"
)

const maxClassificationEvidence = 3

// InvalidOutputError reports an answer that could not be decoded or did not
// match the expected shape.
type InvalidOutputError struct {
	Reason string
	Err    error
}

func (e *InvalidOutputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid llm output: %s: %v", e.Reason, e.Err)
	}
	return "invalid llm output: " + e.Reason
}

func (e *InvalidOutputError) Unwrap() error { return e.Err }

// Completer is the chat transport used by Gateway.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (Completion, error)
}

// Gateway implements extraction.Gateway on top of a chat completion endpoint.
type Gateway struct {
	client Completer
	log    *slog.Logger
}

var _ extraction.Gateway = (*Gateway)(nil)

func NewGateway(client Completer, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{client: client, log: log}
}

type classifierAnswer struct {
	DetectedType models.DocumentType `json:"detected_type"`
	Confidence   float64             `json:"confidence"`
	Evidence     []string            `json:"evidence"`
	Rationale    string              `json:"rationale"`
}

// Classify asks which document type text belongs to and compares it with declared.
func (g *Gateway) Classify(ctx context.Context, declared models.DocumentType, text string) (extraction.Classification, error) {
	rid := uuid.New().String()
	start := time.Now()
	g.log.Debug("llm.classify.start", "req_id", rid, "expected_type", declared, "text_len", len(text))

	raw, _, err := g.complete(ctx, "classification", ClassificationSchema(), classifierMessages(declared, text))
	if err != nil {
		g.log.Warn("llm.classify.error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return extraction.Classification{}, failure(err)
	}
	var ans classifierAnswer
	if err := json.Unmarshal(raw, &ans); err != nil {
		return extraction.Classification{}, failure(&InvalidOutputError{Reason: "decode classification", Err: err})
	}
	evidence := ans.Evidence
	if len(evidence) > maxClassificationEvidence {
		evidence = evidence[:maxClassificationEvidence]
	}
	out := extraction.Classification{
		IsMatch:      ans.DetectedType == declared,
		ExpectedType: declared,
		DetectedType: ans.DetectedType,
		Confidence:   ans.Confidence,
		Evidence:     evidence,
		Rationale:    ans.Rationale,
	}
	g.log.Info("llm.classify.ok",
		"req_id", rid,
		"expected_type", declared,
		"detected_type", out.DetectedType,
		"confidence", out.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

type extractorAnswer struct {
	Data       json.RawMessage            `json:"data"`
	Confidence float64                    `json:"confidence"`
	Evidence   map[string]json.RawMessage `json:"evidence"`
	Notes      []string                   `json:"notes"`
}

// Extract asks for the typed fields of docType and decodes them.
func (g *Gateway) Extract(ctx context.Context, docType models.DocumentType, text string) (extraction.Extraction, error) {
	if !docType.Valid() {
		return extraction.Extraction{}, &extraction.Failure{Kind: extraction.KindUpstreamError, Message: fmt.Sprintf("unsupported document type %q", docType)}
	}
	rid := uuid.New().String()
	start := time.Now()
	g.log.Debug("llm.extract.start", "req_id", rid, "document_type", docType, "text_len", len(text))

	raw, model, err := g.complete(ctx, "extraction-"+strings.ToLower(string(docType)), ExtractionSchema(docType), extractorMessages(docType, text))
	if err != nil {
		g.log.Warn("llm.extract.error", "req_id", rid, "document_type", docType, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return extraction.Extraction{}, failure(err)
	}

	var ans extractorAnswer
	if err := json.Unmarshal(raw, &ans); err != nil {
		return extraction.Extraction{}, failure(&InvalidOutputError{Reason: "decode extraction", Err: err})
	}
	fields, err := models.DecodeFields(docType, ans.Data)
	if err != nil {
		return extraction.Extraction{}, failure(&InvalidOutputError{Reason: "decode fields", Err: err})
	}

	g.log.Info("llm.extract.ok",
		"req_id", rid,
		"document_type", docType,
		"model", model,
		"confidence", ans.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return extraction.Extraction{
		Fields:     fields,
		Confidence: ans.Confidence,
		Evidence:   flattenEvidence(ans.Evidence),
		Notes:      ans.Notes,
		Model:      model,
	}, nil
}

// complete runs the chat call, strips code fences and validates the answer
// against schema.
func (g *Gateway) complete(ctx context.Context, name string, schema map[string]any, messages []Message) ([]byte, string, error) {
	c, err := g.client.Complete(ctx, messages)
	if err != nil {
		return nil, "", err
	}
	content := []byte(stripCodeFence(c.Content))
	if err := ValidateJSONAgainstSchema(name, schema, content); err != nil {
		return nil, "", &InvalidOutputError{Reason: "schema validation failed", Err: err}
	}
	return content, c.Model, nil
}

// flattenEvidence accepts evidence values given as a string or a list of
// strings and joins lists with " | ".
func flattenEvidence(in map[string]json.RawMessage) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if s != "" {
				out[k] = s
			}
			continue
		}
		var list []string
		if err := json.Unmarshal(v, &list); err == nil && len(list) > 0 {
			out[k] = strings.Join(list, " | ")
		}
	}
	return out
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// failure maps transport and decoding errors to extraction failures.
// Timeouts, throttling and 5xx answers are retryable; malformed output and
// other 4xx answers are not.
func failure(err error) error {
	var f *extraction.Failure
	if errors.As(err, &f) {
		return f
	}
	var invalid *InvalidOutputError
	if errors.As(err, &invalid) {
		return &extraction.Failure{Kind: extraction.KindUpstreamError, Message: invalid.Reason, Err: err}
	}
	var status *StatusError
	if errors.As(err, &status) {
		switch {
		case status.StatusCode == http.StatusRequestTimeout || status.StatusCode == http.StatusGatewayTimeout:
			return &extraction.Failure{Kind: extraction.KindUpstreamTimeout, Message: fmt.Sprintf("upstream status %d", status.StatusCode), Retryable: true, Err: err}
		case status.StatusCode == http.StatusTooManyRequests || status.StatusCode >= 500:
			return &extraction.Failure{Kind: extraction.KindUpstreamError, Message: fmt.Sprintf("upstream status %d", status.StatusCode), Retryable: true, Err: err}
		default:
			return &extraction.Failure{Kind: extraction.KindUpstreamError, Message: fmt.Sprintf("upstream status %d", status.StatusCode), Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return extraction.AsFailure(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &extraction.Failure{Kind: extraction.KindUpstreamTimeout, Message: "upstream request timed out", Retryable: true, Err: err}
		}
		return &extraction.Failure{Kind: extraction.KindUpstreamError, Message: "upstream connection failed", Retryable: true, Err: err}
	}
	return extraction.AsFailure(err)
}
