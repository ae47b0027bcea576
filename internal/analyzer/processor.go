package analyzer

import (
	"context"

	"github.com/funvibe/funtrait/internal/pipeline"
	"github.com/funvibe/funtrait/internal/store"
)

// Processors assembles the standard check pipeline over one analyzer. With
// save set, a clean run additionally persists the local unit to the store.
func Processors(a *Analyzer, save bool) []pipeline.Processor {
	ps := []pipeline.Processor{
		&ManifestLoadProcessor{a: a},
		&StoreOpenProcessor{a: a},
		&SymbolRegisterProcessor{a: a},
		&StoreReplayProcessor{a: a},
		&GraphInsertProcessor{a: a},
	}
	if save {
		ps = append(ps, &StoreSaveProcessor{a: a})
	}
	return ps
}

type ManifestLoadProcessor struct{ a *Analyzer }

func (p *ManifestLoadProcessor) Process(ctx *pipeline.PipelineContext) *pipeline.PipelineContext {
	if err := p.a.LoadManifests(ctx.ProjectPath); err != nil {
		ctx.Err = err
		return ctx
	}
	ctx.Project = p.a.Project()
	ctx.Units = p.a.Units()
	ctx.Errors = p.a.Diagnostics()
	return ctx
}

// StoreOpenProcessor opens the unit store once the project configuration is
// known. A StorePath of "-" runs the check without any store.
type StoreOpenProcessor struct{ a *Analyzer }

func (p *StoreOpenProcessor) Process(ctx *pipeline.PipelineContext) *pipeline.PipelineContext {
	if ctx.Project == nil {
		return ctx
	}
	path := ctx.StorePath
	if path == "" {
		path = ctx.Project.Store
	}
	if path == "-" {
		return ctx
	}
	db, err := store.Open(path)
	if err != nil {
		ctx.Err = err
		return ctx
	}
	p.a.SetStore(db)
	ctx.Store = db
	return ctx
}

type SymbolRegisterProcessor struct{ a *Analyzer }

func (p *SymbolRegisterProcessor) Process(ctx *pipeline.PipelineContext) *pipeline.PipelineContext {
	p.a.RegisterSymbols()
	ctx.Table = p.a.Table()
	ctx.Errors = p.a.Diagnostics()
	return ctx
}

type StoreReplayProcessor struct{ a *Analyzer }

func (p *StoreReplayProcessor) Process(ctx *pipeline.PipelineContext) *pipeline.PipelineContext {
	if err := p.a.ReplayStoredUnits(reqCtx(ctx)); err != nil {
		ctx.Err = err
		return ctx
	}
	ctx.Errors = p.a.Diagnostics()
	return ctx
}

type GraphInsertProcessor struct{ a *Analyzer }

func (p *GraphInsertProcessor) Process(ctx *pipeline.PipelineContext) *pipeline.PipelineContext {
	p.a.InsertImpls()
	ctx.Graph = p.a.Graph()
	ctx.Errors = p.a.Diagnostics()
	return ctx
}

// StoreSaveProcessor persists the local unit after a clean check. A run
// that reported errors is not saved; the stage is a no-op then.
type StoreSaveProcessor struct{ a *Analyzer }

func (p *StoreSaveProcessor) Process(ctx *pipeline.PipelineContext) *pipeline.PipelineContext {
	if ctx.Store == nil || p.a.HasErrors() {
		return ctx
	}
	if err := p.a.SaveLocal(reqCtx(ctx)); err != nil {
		ctx.Err = err
	}
	return ctx
}

func reqCtx(ctx *pipeline.PipelineContext) context.Context {
	if ctx.Ctx != nil {
		return ctx.Ctx
	}
	return context.Background()
}
