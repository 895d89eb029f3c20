package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// ShoutrrrProvider delivers through any shoutrrr-supported service (SMS via
// twilio://, email via smtp://, and the rest). One sender covers all
// configured URLs for the channel.
type ShoutrrrProvider struct {
	name    string
	enabled bool
	urls    []string
	tiers   map[string]bool
	sender  *router.ServiceRouter
	timeout time.Duration
}

// NewShoutrrrProvider creates a provider for the given service URLs. An
// empty tiers list means all dispatchable tiers.
func NewShoutrrrProvider(name string, enabled bool, urls, tiers []string, timeout time.Duration) *ShoutrrrProvider {
	sp := &ShoutrrrProvider{
		name:    strings.TrimSpace(name),
		enabled: enabled,
		urls:    slices.Clone(urls),
		tiers:   make(map[string]bool),
		timeout: timeout,
	}
	if sp.name == "" {
		sp.name = "shoutrrr"
	}
	for _, t := range tiers {
		sp.tiers[t] = true
	}
	return sp
}

func (s *ShoutrrrProvider) GetName() string { return s.name }
func (s *ShoutrrrProvider) IsEnabled() bool { return s.enabled }

func (s *ShoutrrrProvider) SupportsTier(tier string) bool {
	if len(s.tiers) == 0 {
		return true
	}
	return s.tiers[tier]
}

// ValidateConfig builds the sender, which validates every URL.
func (s *ShoutrrrProvider) ValidateConfig() error {
	if !s.enabled {
		return nil
	}
	if len(s.urls) == 0 {
		return fmt.Errorf("provider %s: at least one URL is required", s.name)
	}
	sender, err := shoutrrr.CreateSender(s.urls...)
	if err != nil {
		return fmt.Errorf("provider %s: invalid service URL: %w", s.name, err)
	}
	s.sender = sender
	if s.timeout > 0 {
		s.sender.Timeout = s.timeout
	}
	s.sender.SetLogger(log.New(io.Discard, "", 0))
	return nil
}

// Send delivers the alert. Shoutrrr does not distinguish failure classes,
// so every error is treated as transient and left to the retry schedule.
func (s *ShoutrrrProvider) Send(ctx context.Context, msg *AlertMessage) (SendResult, error) {
	if s.sender == nil {
		return PermanentFailure, fmt.Errorf("provider %s: sender not initialized", s.name)
	}
	if ctx.Err() != nil {
		return TransientFailure, ctx.Err()
	}

	params := stypes.Params{}
	if msg.Title != "" {
		params.SetTitle(msg.Title)
	}

	errs := s.sender.Send(msg.Body, &params)
	for _, err := range errs {
		if err != nil {
			return TransientFailure, fmt.Errorf("provider %s: %w", s.name, err)
		}
	}
	return Delivered, nil
}
