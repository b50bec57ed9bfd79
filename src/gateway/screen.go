package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/text/unicode/norm"

	"github.com/quietloop/replyscreen/src/config"
	"github.com/quietloop/replyscreen/src/detect"
)

// screener applies corruption screening to text produced by one source.
type screener struct {
	source    string
	detector  *detect.Detector
	normalize bool
	logger    *slog.Logger
}

func newScreener(cfg config.ScreeningConfig, source string, logger *slog.Logger) (*screener, error) {
	det, err := BuildDetector(cfg)
	if err != nil {
		return nil, err
	}
	return &screener{
		source:    source,
		detector:  det,
		normalize: cfg.EnableNormalization == nil || *cfg.EnableNormalization,
		logger:    logger.With("area", "screener", "source", source),
	}, nil
}

// screenText optionally normalizes text to NFKC, then inspects it.
// Returns the report and the (possibly normalized) text.
func (s *screener) screenText(text string) (detect.Report, string) {
	if s.normalize {
		text = norm.NFKC.String(text)
	}
	return s.detector.Inspect(text), text
}

// screenResult runs every text content item through the detector.
// Corrupted items turn the whole result into an IsError response naming
// the cause, so the host can discard or regenerate. For clean items,
// normalized text replaces the original where normalization changed it.
func (s *screener) screenResult(result *mcp.CallToolResult) *mcp.CallToolResult {
	for i, content := range result.Content {
		tc, ok := content.(*mcp.TextContent)
		if !ok {
			continue
		}

		report, text := s.screenText(tc.Text)
		if report.Corrupted {
			id := uuid.NewString()
			s.logger.Warn("rejected corrupted reply",
				"screening_id", id,
				"rule", report.Rule,
				"ratio", report.Ratio,
			)
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: rejectReason(report, id)}},
				IsError: true,
			}
		}

		if text != tc.Text {
			result.Content[i] = &mcp.TextContent{
				Text:        text,
				Annotations: tc.Annotations,
			}
		}
	}

	return result
}

func rejectReason(r detect.Report, id string) string {
	if r.Rule != "" {
		return fmt.Sprintf("corrupted generator output (rule %s, screening id %s); regenerate the reply", r.Rule, id)
	}
	return fmt.Sprintf("corrupted generator output (special-character ratio %.3f, screening id %s); regenerate the reply", r.Ratio, id)
}

// screenTextInput is the argument schema for the screen_text tool.
type screenTextInput struct {
	Text string `json:"text" jsonschema:"the reply text to screen for generator corruption"`
}

type screenTextOutput struct {
	Corrupted bool    `json:"corrupted" jsonschema:"true when the text needs cleaning"`
	Rule      string  `json:"rule,omitempty" jsonschema:"name of the structural rule that matched, empty for ratio verdicts"`
	Ratio     float64 `json:"ratio" jsonschema:"proportion of special characters in the text"`
}

// registerScreenTool adds the native screen_text diagnostic tool, which
// returns the raw detection signal for arbitrary text instead of proxying
// a backend.
func registerScreenTool(srv *mcp.Server, s *screener) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "screen_text",
		Description: "Screen a block of model-generated text for corruption artifacts (leaked markup, delimiter runs, excessive special characters).",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in screenTextInput) (*mcp.CallToolResult, screenTextOutput, error) {
		report, _ := s.screenText(in.Text)
		return nil, screenTextOutput{
			Corrupted: report.Corrupted,
			Rule:      report.Rule,
			Ratio:     report.Ratio,
		}, nil
	})
}
