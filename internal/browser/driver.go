// Package browser drives a Chrome tab over the DevTools protocol. It is the
// local page context: every dispatch effect and the hovered-element snapshot
// come from here when no extension bridge is in use.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"go.uber.org/zap"

	"chromate/internal/domain"
)

const defaultNavigationTimeout = 15 * time.Second

var ErrNotConnected = errors.New("browser not connected")

// Config controls how the driver reaches Chrome.
type Config struct {
	// DebuggerURL attaches to a running browser; empty launches one.
	DebuggerURL       string
	Bin               string
	Headless          bool
	StartURL          string
	NavigationTimeout time.Duration
}

// Driver implements ports.Page and ports.ElementTracker against the current tab.
type Driver struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	page     *rod.Page
	launched bool
	tracked  map[proto.TargetTargetID]bool
}

func NewDriver(cfg Config, logger *zap.Logger) *Driver {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		cfg:     cfg,
		logger:  logger,
		tracked: make(map[proto.TargetTargetID]bool),
	}
}

// Start connects to Chrome and selects the first open tab, opening StartURL
// when there is none.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		if _, err := d.browser.Version(); err == nil {
			return nil
		}
		d.logger.Warn("stale browser connection, reconnecting")
		d.resetLocked()
	}

	controlURL := d.cfg.DebuggerURL
	launched := false
	if controlURL == "" {
		launch := launcher.New().Headless(d.cfg.Headless)
		if d.cfg.Bin != "" {
			launch = launch.Bin(d.cfg.Bin)
		}
		url, err := launch.Context(ctx).Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
		launched = true
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	d.browser = browser
	d.launched = launched
	d.logger.Info("browser connected", zap.String("control_url", controlURL), zap.Bool("launched", launched))

	if pages, err := browser.Pages(); err == nil && len(pages) > 0 {
		d.page = pages[0]
		return d.trackLocked(ctx, d.page)
	}
	_, err := d.openLocked(ctx, d.cfg.StartURL)
	return err
}

// Shutdown releases the connection. A browser the driver launched is closed.
func (d *Driver) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser == nil {
		return nil
	}
	var err error
	if d.launched {
		err = d.browser.Close()
		d.launched = false
	}
	d.resetLocked()
	return err
}

func (d *Driver) resetLocked() {
	if d.launched && d.browser != nil {
		_ = d.browser.Close()
	}
	d.browser = nil
	d.page = nil
	d.launched = false
	d.tracked = make(map[proto.TargetTargetID]bool)
}

func (d *Driver) current(ctx context.Context) (*rod.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser == nil {
		return nil, ErrNotConnected
	}
	if d.page == nil {
		if _, err := d.openLocked(ctx, d.cfg.StartURL); err != nil {
			return nil, err
		}
	}
	return d.page.Context(ctx), nil
}

func (d *Driver) openLocked(ctx context.Context, url string) (*rod.Page, error) {
	if strings.TrimSpace(url) == "" {
		url = "about:blank"
	}
	page, err := d.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	if _, err := page.Activate(); err != nil {
		d.logger.Debug("tab activation failed", zap.Error(err))
	}
	d.page = page
	if err := d.trackLocked(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// trackLocked installs the hover observer on page, now and on every
// subsequent document load.
func (d *Driver) trackLocked(ctx context.Context, page *rod.Page) error {
	if d.tracked[page.TargetID] {
		return nil
	}
	if _, err := page.EvalOnNewDocument("(" + hoverObserverScript + ")()"); err != nil {
		return fmt.Errorf("install hover observer: %w", err)
	}
	if _, err := page.Context(ctx).Eval(hoverObserverScript); err != nil {
		d.logger.Debug("hover observer not installed on current document", zap.Error(err))
	}
	d.tracked[page.TargetID] = true
	return nil
}

func (d *Driver) ScrollBy(ctx context.Context, viewportFraction float64) error {
	page, err := d.current(ctx)
	if err != nil {
		return err
	}
	_, err = page.Eval(`(f) => window.scrollBy({ top: window.innerHeight * f, behavior: 'smooth' })`, viewportFraction)
	return err
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	page, err := d.current(ctx)
	if err != nil {
		return err
	}
	if err := page.Timeout(d.cfg.NavigationTimeout).Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

func (d *Driver) OpenTab(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser == nil {
		return ErrNotConnected
	}
	_, err := d.openLocked(ctx, url)
	return err
}

func (d *Driver) Back(ctx context.Context) error {
	page, err := d.current(ctx)
	if err != nil {
		return err
	}
	return page.NavigateBack()
}

func (d *Driver) Forward(ctx context.Context) error {
	page, err := d.current(ctx)
	if err != nil {
		return err
	}
	return page.NavigateForward()
}

func (d *Driver) Reload(ctx context.Context) error {
	page, err := d.current(ctx)
	if err != nil {
		return err
	}
	return page.Reload()
}

// Close closes the current tab and moves to another open one, if any.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser == nil || d.page == nil {
		return ErrNotConnected
	}
	closing := d.page
	if err := closing.Close(); err != nil {
		return fmt.Errorf("close tab: %w", err)
	}
	delete(d.tracked, closing.TargetID)
	d.page = nil

	pages, err := d.browser.Pages()
	if err != nil {
		return nil
	}
	for _, page := range pages {
		if page.TargetID == closing.TargetID {
			continue
		}
		d.page = page
		if _, err := page.Activate(); err != nil {
			d.logger.Debug("tab activation failed", zap.Error(err))
		}
		if err := d.trackLocked(ctx, page); err != nil {
			d.logger.Warn("hover tracking unavailable on new tab", zap.Error(err))
		}
		break
	}
	return nil
}

// Zoom reads the body zoom factor; an unset zoom reads as 1.
func (d *Driver) Zoom(ctx context.Context) (float64, error) {
	page, err := d.current(ctx)
	if err != nil {
		return 0, err
	}
	res, err := page.Eval(`() => parseFloat(document.body && document.body.style.zoom) || 1`)
	if err != nil {
		return 0, err
	}
	return res.Value.Num(), nil
}

func (d *Driver) SetZoom(ctx context.Context, level float64) error {
	page, err := d.current(ctx)
	if err != nil {
		return err
	}
	_, err = page.Eval(`(level) => { if (document.body) document.body.style.zoom = String(level) }`, level)
	return err
}

// ClickHovered clicks the element last seen under the pointer. It reports
// false when nothing is hovered or the element left the document.
func (d *Driver) ClickHovered(ctx context.Context) (bool, error) {
	page, err := d.current(ctx)
	if err != nil {
		return false, err
	}
	res, err := page.Eval(`() => {
		const el = window.__chromateHovered;
		if (!el || !el.isConnected) return false;
		el.click();
		return true;
	}`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// HoveredElement returns the current hover snapshot, or nil if none.
func (d *Driver) HoveredElement(ctx context.Context) (*domain.ElementContext, error) {
	page, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	res, err := page.Eval(hoveredElementScript)
	if err != nil {
		return nil, err
	}
	return decodeElement(res.Value), nil
}

func decodeElement(value gson.JSON) *domain.ElementContext {
	if value.Nil() {
		return nil
	}
	element := &domain.ElementContext{
		TagName:   value.Get("tagName").Str(),
		ClassName: value.Get("className").Str(),
		ID:        value.Get("id").Str(),
		Text:      value.Get("text").Str(),
		Href:      value.Get("href").Str(),
		Type:      value.Get("type").Str(),
		Role:      value.Get("role").Str(),
	}
	if element.TagName == "" {
		return nil
	}
	return element
}

const hoverObserverScript = `() => {
	if (window.__chromateHoverInstalled) return;
	window.__chromateHoverInstalled = true;
	document.addEventListener('mouseover', (event) => {
		window.__chromateHovered = event.target;
	}, { capture: true, passive: true });
}`

const hoveredElementScript = `() => {
	const el = window.__chromateHovered;
	if (!el || !el.isConnected) return null;
	const text = (el.innerText || el.textContent || '').trim().slice(0, 100);
	return {
		tagName: el.tagName || '',
		className: typeof el.className === 'string' ? el.className : '',
		id: el.id || '',
		text: text,
		href: el.href || '',
		type: el.type || '',
		role: el.getAttribute ? (el.getAttribute('role') || '') : '',
	};
}`
