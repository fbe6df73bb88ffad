package main

import (
	"context"
	"encoding/json"
	"io"

	"docchat-backend/internal/bootstrap"
	"docchat-backend/internal/shared/config"
)

// cliEnv is what commands need from the outside world; tests swap it.
type cliEnv struct {
	loadConfig func() config.Config
	buildApp   func(ctx context.Context, cfg config.Config) (*bootstrap.App, error)
}

func defaultEnv() *cliEnv {
	return &cliEnv{
		loadConfig: config.Load,
		buildApp:   bootstrap.BuildContext,
	}
}

func (e *cliEnv) app(ctx context.Context) (*bootstrap.App, error) {
	return e.buildApp(ctx, e.loadConfig())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
