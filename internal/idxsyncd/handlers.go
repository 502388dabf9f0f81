package idxsyncd

import (
	"context"
	"fmt"
	"strings"

	"idxsync/internal/app"
	"idxsync/internal/config"
	"idxsync/internal/core/task"
	"idxsync/internal/version"
)

// Handlers implements the admin methods on top of the running app.
type Handlers struct {
	app *app.App
}

func NewHandlers(a *app.App) *Handlers {
	return &Handlers{app: a}
}

func (h *Handlers) Version() string {
	return version.String()
}

func (h *Handlers) IndexList() (IndexListResult, error) {
	if h == nil || h.app == nil {
		return IndexListResult{}, fmt.Errorf("handlers is nil")
	}
	return IndexListResult{
		Definitions: h.app.Definitions,
		Engine:      h.app.Engine.Status(),
	}, nil
}

// IndexRun runs one cycle synchronously through the same runner the
// scheduler uses.
func (h *Handlers) IndexRun(ctx context.Context, p IndexRunParams) (IndexRunResult, error) {
	if h == nil || h.app == nil {
		return IndexRunResult{}, fmt.Errorf("handlers is nil")
	}
	def, err := h.app.Definition(p.Name)
	if err != nil {
		return IndexRunResult{}, err
	}
	res, err := h.app.Runner.Run(ctx, def)
	if err != nil {
		return IndexRunResult{}, err
	}
	return IndexRunResult{Key: def.Key(), Result: res}, nil
}

// IndexStatus returns the latest run of every definition, or only of the
// definition p.Name resolves to. Definitions that never ran are reported idle.
func (h *Handlers) IndexStatus(p IndexStatusParams) ([]task.Status, error) {
	if h == nil || h.app == nil {
		return nil, fmt.Errorf("handlers is nil")
	}
	defs := h.app.Definitions
	if strings.TrimSpace(p.Name) != "" {
		def, err := h.app.Definition(p.Name)
		if err != nil {
			return nil, err
		}
		defs = []config.Definition{def}
	}

	seen := map[string]task.Status{}
	for _, st := range h.app.Runner.Statuses() {
		seen[st.Key] = st
	}
	out := make([]task.Status, 0, len(defs))
	for _, d := range defs {
		st, ok := seen[d.Key()]
		if !ok {
			st = task.Status{Key: d.Key(), Name: d.Name, Mode: d.Mode}
		}
		out = append(out, st)
	}
	return out, nil
}
