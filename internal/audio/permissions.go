package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"chromate/internal/domain"
	"chromate/internal/ports"
)

// Prober answers microphone permission queries for the ffmpeg backend. There
// is no OS prompt to show, so a request opens the device once and reports
// whether that worked.
type Prober struct {
	capture  ports.AudioCapture
	cfg      ports.AudioConfig
	command  string
	override domain.PermissionState
	logger   *zap.Logger

	mu       sync.Mutex
	resolved domain.PermissionState
}

// NewProber builds a prober. override, when set to granted or denied, is
// returned from every query without touching the device.
func NewProber(capture ports.AudioCapture, cfg ports.AudioConfig, command string, override string, logger *zap.Logger) *Prober {
	if command == "" {
		command = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		capture:  capture,
		cfg:      cfg,
		command:  command,
		override: parsePermission(override),
		logger:   logger,
	}
}

func (p *Prober) Query(_ context.Context) (domain.PermissionState, error) {
	if p.override != "" {
		return p.override, nil
	}
	if _, err := exec.LookPath(p.command); err != nil {
		return domain.PermissionDenied, fmt.Errorf("capture command %q not found: %w", p.command, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved != "" {
		return p.resolved, nil
	}
	return domain.PermissionPrompt, nil
}

func (p *Prober) Request(ctx context.Context) (domain.PermissionState, error) {
	if p.override != "" {
		return p.override, nil
	}

	session, err := p.capture.Start(ctx, p.cfg)
	state := domain.PermissionGranted
	if err != nil {
		p.logger.Warn("microphone probe failed", zap.Error(err))
		state = domain.PermissionDenied
	} else if stopErr := session.Stop(); stopErr != nil {
		p.logger.Debug("microphone probe did not stop cleanly", zap.Error(stopErr))
	}

	// Only a grant is remembered; after a denial the next query prompts again.
	p.mu.Lock()
	if state == domain.PermissionGranted {
		p.resolved = state
	} else {
		p.resolved = ""
	}
	p.mu.Unlock()
	return state, nil
}

func parsePermission(value string) domain.PermissionState {
	switch domain.PermissionState(strings.ToLower(strings.TrimSpace(value))) {
	case domain.PermissionGranted:
		return domain.PermissionGranted
	case domain.PermissionDenied:
		return domain.PermissionDenied
	default:
		return ""
	}
}
