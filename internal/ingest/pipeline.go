package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"order-analytics-pipeline/internal/filter"
	"order-analytics-pipeline/internal/storage"
	"order-analytics-pipeline/internal/telemetry"
)

// ErrOutsideRaw is returned when a requested key does not live under the
// configured raw area.
var ErrOutsideRaw = errors.New("key outside raw area")

// Pipeline filters raw order batches: read from the raw area, apply the
// retention policy, write the kept rows to the processed area.
type Pipeline struct {
	store           storage.ObjectStore
	policy          filter.Policy
	rawPrefix       string
	processedPrefix string
	outputTag       string
	log             *logrus.Entry
	now             func() time.Time
}

// Summary reports what one batch run did.
type Summary struct {
	InputKey  string `json:"input_key"`
	OutputKey string `json:"output_key,omitempty"`
	Total     int    `json:"total"`
	Kept      int    `json:"kept"`
	Dropped   int    `json:"dropped"`
	Rejected  int    `json:"rejected"`
}

// NewPipeline wires a pipeline. outputTag, when non-empty, replaces the
// mirror layout: output keys become outputTag + base name of the input.
func NewPipeline(store storage.ObjectStore, policy filter.Policy, rawPrefix, processedPrefix, outputTag string, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		store:           store,
		policy:          policy,
		rawPrefix:       rawPrefix,
		processedPrefix: processedPrefix,
		outputTag:       outputTag,
		log:             log,
		now:             time.Now,
	}
}

// Run filters a single raw object. Row-level problems are surfaced in the
// summary, not as errors; an error means the batch produced no output.
func (p *Pipeline) Run(ctx context.Context, key string) (Summary, error) {
	if !strings.HasPrefix(key, p.rawPrefix) {
		return Summary{}, fmt.Errorf("key %q, raw area %q: %w", key, p.rawPrefix, ErrOutsideRaw)
	}
	raw, err := p.store.Get(ctx, key)
	if err != nil {
		return Summary{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		p.log.WithField("key", key).Info("skipping empty input")
		return Summary{InputKey: key}, nil
	}

	records, rejects, err := DecodeRecords(raw)
	if err != nil {
		return Summary{}, fmt.Errorf("decode %s: %w", key, err)
	}
	res, filterRejects := filter.Apply(records, p.policy, p.now())
	rejects = append(rejects, filterRejects...)
	for _, re := range rejects {
		p.log.WithFields(logrus.Fields{"key": key, "line": re.Line, "field": re.Field}).Warn(re.Reason)
	}

	out, err := EncodeRecords(res.Kept)
	if err != nil {
		return Summary{}, fmt.Errorf("encode %s: %w", key, err)
	}
	outputKey := p.OutputKey(key)
	if err := p.store.Put(ctx, outputKey, out, "text/csv; charset=utf-8"); err != nil {
		return Summary{}, err
	}

	telemetry.RecordsProcessed.Add(float64(res.Total))
	telemetry.RecordsKept.Add(float64(res.KeptCount))
	telemetry.RecordsDropped.Add(float64(res.DroppedCount))
	telemetry.RecordsRejected.Add(float64(len(rejects)))

	summary := Summary{
		InputKey:  key,
		OutputKey: outputKey,
		Total:     res.Total,
		Kept:      res.KeptCount,
		Dropped:   res.DroppedCount,
		Rejected:  len(rejects),
	}
	p.log.WithFields(logrus.Fields{
		"key":      key,
		"output":   outputKey,
		"total":    summary.Total,
		"kept":     summary.Kept,
		"dropped":  summary.Dropped,
		"rejected": summary.Rejected,
	}).Info("batch filtered")
	return summary, nil
}

// RunPrefix filters every object under prefix (the raw area when empty).
// Per-object failures are logged and skipped so one bad file cannot block
// a backfill.
func (p *Pipeline) RunPrefix(ctx context.Context, prefix string) ([]Summary, error) {
	if prefix == "" {
		prefix = p.rawPrefix
	}
	keys, err := p.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(keys))
	for _, key := range keys {
		if ctx.Err() != nil {
			return summaries, ctx.Err()
		}
		s, err := p.Run(ctx, key)
		if err != nil {
			p.log.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Error("batch failed")
			continue
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// OutputKey mirrors an input key into the processed area, or applies the
// fixed output tag when configured.
func (p *Pipeline) OutputKey(key string) string {
	if p.outputTag != "" {
		return p.outputTag + path.Base(key)
	}
	return p.processedPrefix + strings.TrimPrefix(key, p.rawPrefix)
}
