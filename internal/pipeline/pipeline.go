// Package pipeline chains the stages of a check run. Stages share one
// context and keep running after diagnostics, so a single run reports
// everything it can; an infrastructure failure stops the chain.
package pipeline

import (
	"context"

	"github.com/funvibe/funtrait/internal/coherence"
	"github.com/funvibe/funtrait/internal/diagnostics"
	"github.com/funvibe/funtrait/internal/manifest"
	"github.com/funvibe/funtrait/internal/store"
	"github.com/funvibe/funtrait/internal/symbols"
)

// PipelineContext carries the state of one check run between stages.
type PipelineContext struct {
	Ctx         context.Context
	ProjectPath string

	// StorePath overrides the project's configured store location; "-"
	// disables the store entirely.
	StorePath string

	Project *manifest.Project
	Units   []*manifest.Unit
	Table   *symbols.Table
	Graph   *coherence.Graph
	Store   *store.Store

	Errors []*diagnostics.DiagnosticError

	// Err is an infrastructure failure (unreadable project file, broken
	// store). It stops the pipeline; diagnostics in Errors do not.
	Err error
}

// Processor is one pipeline stage.
type Processor interface {
	Process(ctx *PipelineContext) *PipelineContext
}

// Pipeline represents a sequence of processing stages.
type Pipeline struct {
	processors []Processor
}

func New(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Run executes the pipeline.
func (p *Pipeline) Run(initialCtx *PipelineContext) *PipelineContext {
	ctx := initialCtx
	for _, processor := range p.processors {
		ctx = processor.Process(ctx)
		// Continue on diagnostics to collect output from all stages.
		if ctx.Err != nil {
			return ctx
		}
	}
	return ctx
}
