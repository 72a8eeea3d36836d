// Package convert assembles the downloader, processor, and EPW generator
// into the pipeline contract the batch scheduler drives.
package convert

import (
	"context"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/batch"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/domain"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/download"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/epw"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/process"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/station"
)

// Pipeline runs one station-year conversion end to end: fetch the decade
// archive, transform the raw observations, validate, and write the EPW
// artifact.
type Pipeline struct {
	downloader *download.Downloader
	processor  *process.Processor
	generator  *epw.Generator
}

var _ batch.Pipeline = (*Pipeline)(nil)

func NewPipeline(d *download.Downloader, p *process.Processor, g *epw.Generator) *Pipeline {
	return &Pipeline{downloader: d, processor: p, generator: g}
}

// Fetch resolves the decade archive covering year and returns the extracted
// raw file path.
func (p *Pipeline) Fetch(ctx context.Context, st station.Station, year int, force bool) (string, error) {
	return p.downloader.Fetch(ctx, st.ID, year, force)
}

func (p *Pipeline) Transform(ctx context.Context, rawPath string, st station.Station, year int) ([]domain.HourlyRecord, error) {
	return p.processor.Transform(ctx, rawPath, st, year)
}

func (p *Pipeline) TransformStreaming(ctx context.Context, rawPath string, st station.Station, year int) ([]domain.HourlyRecord, error) {
	return p.processor.TransformStreaming(ctx, rawPath, st, year)
}

func (p *Pipeline) Validate(records []domain.HourlyRecord) bool {
	return p.processor.Validate(records)
}

func (p *Pipeline) Write(ctx context.Context, records []domain.HourlyRecord, st station.Station, year int, outputPath string) (string, error) {
	return p.generator.Generate(ctx, records, st, year, outputPath)
}
