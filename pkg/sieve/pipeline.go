// Package sieve runs the two-phase dedup and emit pipeline: read every
// input document into a dedup table, then look each distinct id up and
// emit records for the ones the index does not know.
package sieve

import (
	"context"
	"io"

	"github.com/athapong/entity-sieve/pkg/dedup"
	"github.com/athapong/entity-sieve/pkg/jsonpath"
	"github.com/athapong/entity-sieve/pkg/lookup"
	"github.com/athapong/entity-sieve/pkg/metrics"
	"github.com/athapong/entity-sieve/pkg/stream"
	"github.com/athapong/entity-sieve/pkg/transform"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// IngestStats counts what phase one did with the input
type IngestStats struct {
	Documents  int `json:"documents"`
	WithoutID  int `json:"without_id"`
	Duplicates int `json:"duplicates"`
	Distinct   int `json:"distinct"`
}

// EmitStats counts what phase two did with the table
type EmitStats struct {
	Lookups int `json:"lookups"`
	Found   int `json:"found"`
	Emitted int `json:"emitted"`
}

// Summary is the outcome of a full run
type Summary struct {
	IngestStats
	EmitStats
}

// Pipeline wires the extractor paths, the lookup service and a sink
type Pipeline struct {
	idPath  *jsonpath.Path
	docPath *jsonpath.Path
	finder  lookup.Finder
	logger  *logrus.Logger
}

// NewPipeline creates a pipeline. docPath may be nil.
func NewPipeline(idPath, docPath *jsonpath.Path, finder lookup.Finder) *Pipeline {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Pipeline{
		idPath:  idPath,
		docPath: docPath,
		finder:  finder,
		logger:  logger,
	}
}

// SetLogger replaces the pipeline's logger
func (p *Pipeline) SetLogger(logger *logrus.Logger) {
	p.logger = logger
}

// Run reads all of r, then emits records for unknown ids to sink
func (p *Pipeline) Run(ctx context.Context, r io.Reader, sink RecordSink) (Summary, error) {
	var summary Summary

	table, ingest, err := p.Ingest(ctx, r)
	summary.IngestStats = ingest
	if err != nil {
		return summary, err
	}

	emit, err := p.Emit(ctx, table, sink)
	summary.EmitStats = emit
	return summary, err
}

// Ingest is phase one. It consumes the input array and returns the filled
// table; the table is not modified afterwards.
func (p *Pipeline) Ingest(ctx context.Context, r io.Reader) (*dedup.Table, IngestStats, error) {
	var stats IngestStats
	reader := stream.NewReader(r)
	buffer := dedup.NewBuffer(p.idPath, p.docPath)

	p.logger.WithFields(logrus.Fields{
		"id_path":  p.idPath.String(),
		"doc_path": pathString(p.docPath),
	}).Info("Reading input documents")
	if !p.idPath.Definite() {
		p.logger.WithField("id_path", p.idPath.String()).Info("Id path may select several values, using the first match")
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		doc, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, errors.Wrap(err, "read input")
		}

		stats.Documents++
		metrics.DocumentsRead.Inc()

		switch outcome := buffer.Ingest(doc); outcome {
		case dedup.Stored:
			stats.Distinct++
		case dedup.Duplicate:
			stats.Duplicates++
			metrics.DocumentsSkipped.WithLabelValues(outcome.String()).Inc()
		case dedup.NoID:
			stats.WithoutID++
			metrics.DocumentsSkipped.WithLabelValues(outcome.String()).Inc()
			p.logger.WithField("document", stats.Documents).Debug("Document has no id")
		}
	}

	table := buffer.Table()
	metrics.DedupEntries.Set(float64(table.Len()))
	metrics.UpdateSystemMetrics()

	p.logger.WithFields(logrus.Fields{
		"documents":  stats.Documents,
		"distinct":   stats.Distinct,
		"duplicates": stats.Duplicates,
		"without_id": stats.WithoutID,
	}).Info("Input read")

	return table, stats, nil
}

// Emit is phase two. Ids are looked up one at a time in table order, and a
// record is written for each id the index does not contain. A lookup
// failure stops the run; records already written stay written.
func (p *Pipeline) Emit(ctx context.Context, table *dedup.Table, sink RecordSink) (EmitStats, error) {
	var stats EmitStats

	for _, entry := range table.Entries() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		timer := prometheus.NewTimer(metrics.LookupDuration)
		_, found, err := p.finder.FindEntity(ctx, entry.ID)
		timer.ObserveDuration()
		stats.Lookups++

		if err != nil {
			metrics.Lookups.WithLabelValues("error").Inc()
			return stats, errors.Wrapf(err, "lookup %q", entry.ID)
		}

		if found {
			stats.Found++
			metrics.Lookups.WithLabelValues("found").Inc()
			p.logger.WithField("id", entry.ID).Debug("Entity already indexed")
			continue
		}
		metrics.Lookups.WithLabelValues("not_found").Inc()

		record := transform.Build(entry.ID, entry.Doc, entry.HasDoc)
		if err := sink.Write(ctx, record); err != nil {
			return stats, errors.Wrapf(err, "emit %q", entry.ID)
		}
		stats.Emitted++
		metrics.RecordsEmitted.Inc()
	}

	p.logger.WithFields(logrus.Fields{
		"lookups": stats.Lookups,
		"found":   stats.Found,
		"emitted": stats.Emitted,
	}).Info("Lookups completed")

	return stats, nil
}

func pathString(p *jsonpath.Path) string {
	if p == nil {
		return ""
	}
	return p.String()
}
