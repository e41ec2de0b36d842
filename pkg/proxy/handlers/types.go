package handlers

import (
	"context"

	"github.com/tanranv5/grok2api/pkg/imagews"
	"github.com/tanranv5/grok2api/pkg/orchestrator"
	"github.com/tanranv5/grok2api/pkg/token"
)

// Runner drives the retrying upstream attempt loop. Satisfied by
// *orchestrator.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request, handle orchestrator.HandleFunc) error
}

// ImageSessions produces images over the provider's websocket.
// Generate aggregates finished results; Stream yields every frame as
// it arrives. Satisfied by *imagews.Adapter.
type ImageSessions interface {
	Generate(ctx context.Context, cookie string, p imagews.Params) []imagews.Result
	Stream(ctx context.Context, cookie string, p imagews.Params) <-chan imagews.Event
}

// AssetFetcher downloads provider-hosted media. Satisfied by
// *grok.Client.
type AssetFetcher interface {
	DownloadAsset(ctx context.Context, cred token.Credential, ref string) ([]byte, error)
}
