// Package dispatch maps interpreted actions onto page effects, either directly
// against a page driver or by relaying messages to the context that owns the page.
package dispatch

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"chromate/internal/domain"
	"chromate/internal/ports"
)

const (
	ScrollFraction = 0.8
	ZoomStep       = 0.3
	MinZoom        = 0.3
	DefaultZoom    = 1.0

	DefaultSearchURL = "https://www.google.com/search?q="
)

// Config controls dispatch details that differ between deployments.
type Config struct {
	OpenInNewTab bool
	SearchURL    string
}

// Dispatcher performs one page effect per action against a local page.
type Dispatcher struct {
	page   ports.Page
	cfg    Config
	logger *zap.Logger
}

func NewDispatcher(page ports.Page, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{page: page, cfg: cfg, logger: logger}
}

// Dispatch runs the table lookup. Unknown kinds and history failures are
// logged and swallowed; other page failures are returned to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, action domain.Action) error {
	log := d.logger.With(zap.String("action", string(action.Kind)))

	switch action.Kind {
	case domain.ActionScroll:
		fraction := ScrollFraction
		if action.Direction == domain.DirectionUp {
			fraction = -ScrollFraction
		}
		return d.page.ScrollBy(ctx, fraction)

	case domain.ActionOpen:
		if action.URL == "" {
			log.Warn("open action without url ignored")
			return nil
		}
		if d.cfg.OpenInNewTab {
			return d.page.OpenTab(ctx, action.URL)
		}
		return d.page.Navigate(ctx, action.URL)

	case domain.ActionSearch:
		if action.Query == "" {
			log.Warn("search action without query ignored")
			return nil
		}
		return d.page.Navigate(ctx, SearchURL(d.cfg.SearchURL, action.Query))

	case domain.ActionBackward:
		if err := d.page.Back(ctx); err != nil {
			log.Warn("history back failed", zap.Error(err))
		}
		return nil

	case domain.ActionForward:
		if err := d.page.Forward(ctx); err != nil {
			log.Warn("history forward failed", zap.Error(err))
		}
		return nil

	case domain.ActionRefresh:
		return d.page.Reload(ctx)

	case domain.ActionClose:
		return d.page.Close(ctx)

	case domain.ActionZoom:
		current, err := d.page.Zoom(ctx)
		if err != nil {
			return fmt.Errorf("read zoom: %w", err)
		}
		return d.page.SetZoom(ctx, NextZoom(current, action.Direction))

	case domain.ActionReset:
		return d.page.SetZoom(ctx, DefaultZoom)

	case domain.ActionClick:
		clicked, err := d.page.ClickHovered(ctx)
		if err != nil {
			return fmt.Errorf("click hovered element: %w", err)
		}
		if !clicked {
			log.Info("no hovered element to click")
		}
		return nil

	case domain.ActionNone:
		log.Debug("interpreter returned no action")
		return nil

	default:
		log.Warn("unknown action ignored")
		return nil
	}
}

// NextZoom applies one zoom step in the given direction, never going below MinZoom.
func NextZoom(current float64, direction string) float64 {
	if current <= 0 {
		current = DefaultZoom
	}
	next := current + ZoomStep
	if direction == domain.DirectionOut {
		next = current - ZoomStep
	}
	next = math.Round(next*100) / 100
	if next < MinZoom {
		return MinZoom
	}
	return next
}

// SearchURL builds the results URL for a free-text query.
func SearchURL(base string, query string) string {
	if base == "" {
		base = DefaultSearchURL
	}
	return base + strings.ReplaceAll(url.QueryEscape(query), "+", "%20")
}
