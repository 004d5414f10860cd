// Package translate backfills per-line lyric translations through Tencent
// Cloud TMT. Lines are batched into one request per chunk and mapped back
// by newline position; a failed chunk leaves its lines untranslated rather
// than failing the whole timeline.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/regions"
	tmt "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tmt/v20180321"
)

// batchMaxChars stays under the TMT per-request source text limit.
const batchMaxChars = 1800

var logger = log.With().Str("component", "translate").Logger()

// Tencent translates lyric lines via the TMT service. Chinese sources go
// to English, everything else goes to Chinese.
type Tencent struct {
	client *tmt.Client
}

// NewTencent builds a TMT client from API credentials.
func NewTencent(secretID, secretKey string) (*Tencent, error) {
	credential := common.NewCredential(secretID, secretKey)
	client, err := tmt.NewClient(credential, regions.Guangzhou, profile.NewClientProfile())
	if err != nil {
		return nil, fmt.Errorf("new tmt client: %w", err)
	}
	return &Tencent{client: client}, nil
}

// Translate returns one translation per input line, aligned by index.
// Empty inputs and lines from failed chunks come back as "".
func (t *Tencent) Translate(ctx context.Context, texts []string) ([]string, error) {
	out := make([]string, len(texts))
	batches := chunkIndexes(texts, batchMaxChars)
	if len(batches) == 0 {
		return out, nil
	}

	source, err := t.detect(texts[batches[0][0]])
	if err != nil {
		return nil, fmt.Errorf("detect language: %w", err)
	}
	target := "zh"
	if source == "zh" {
		target = "en"
	}
	logger.Debug().Str("source", source).Str("target", target).Int("lines", len(texts)).Msg("translating lyrics")

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines := make([]string, len(batch))
		for k, i := range batch {
			lines[k] = texts[i]
		}
		translated, err := t.translateText(strings.Join(lines, "\n"), source, target)
		if err != nil {
			logger.Warn().Err(err).Int("lines", len(batch)).Msg("chunk translation failed")
			continue
		}
		parts := strings.Split(translated, "\n")
		if len(parts) != len(batch) {
			logger.Warn().Int("want", len(batch)).Int("got", len(parts)).Msg("chunk line count mismatch")
			continue
		}
		for k, i := range batch {
			out[i] = strings.TrimSpace(parts[k])
		}
	}
	return out, nil
}

func (t *Tencent) detect(sample string) (string, error) {
	req := tmt.NewLanguageDetectRequest()
	projectID := int64(0)
	req.Text = &sample
	req.ProjectId = &projectID
	resp, err := t.client.LanguageDetect(req)
	if err != nil {
		return "", err
	}
	if resp.Response == nil || resp.Response.Lang == nil {
		return "", errors.New("empty language detect response")
	}
	return *resp.Response.Lang, nil
}

func (t *Tencent) translateText(text, source, target string) (string, error) {
	req := tmt.NewTextTranslateRequest()
	projectID := int64(0)
	req.SourceText = &text
	req.Source = &source
	req.Target = &target
	req.ProjectId = &projectID
	resp, err := t.client.TextTranslate(req)
	if err != nil {
		return "", err
	}
	if resp.Response == nil || resp.Response.TargetText == nil {
		return "", errors.New("empty translate response")
	}
	return *resp.Response.TargetText, nil
}

// chunkIndexes groups the indexes of non-empty lines into consecutive
// batches whose joined length stays under maxChars.
func chunkIndexes(texts []string, maxChars int) [][]int {
	var (
		batches [][]int
		current []int
		size    int
	)
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if len(current) > 0 && size+len(text)+1 > maxChars {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, i)
		size += len(text) + 1
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
