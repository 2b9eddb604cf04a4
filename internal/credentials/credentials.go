package credentials

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// Manager hands out short-lived bearer tokens for one external service.
// Tokens live only in memory; the credential issuer is the system of record.
type Manager struct {
	name string
	conf *clientcredentials.Config

	mu    sync.Mutex
	token string
	exp   time.Time
}

// NewManager configures token exchange against tokenURL. An empty tokenURL
// disables auth (local development against a stub service).
func NewManager(name, tokenURL, clientID, clientSecret string) *Manager {
	m := &Manager{name: name}
	if tokenURL != "" {
		m.conf = &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		}
	}
	return m
}

// Token returns a cached access token, fetching a fresh one when the cache is
// empty or expired.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if m.conf == nil {
		return "", nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && time.Now().Before(m.exp) {
		return m.token, nil
	}

	return m.fetchLocked(ctx)
}

// Refresh drops the cached token and fetches a new one. Called by the sync
// orchestrator when an adapter reports an expired credential.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.conf == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = ""
	_, err := m.fetchLocked(ctx)
	return err
}

func (m *Manager) fetchLocked(ctx context.Context) (string, error) {
	tok, err := m.conf.Token(ctx)
	if err != nil {
		slog.Error("Unable to fetch access token", slog.String("service", m.name), slog.Any("error", err))
		return "", err
	}

	m.token = tok.AccessToken
	// Renew a little early so in-flight requests do not race expiry.
	m.exp = tok.Expiry.Add(-30 * time.Second)

	slog.Info("Fetched access token", slog.String("service", m.name), slog.Time("expires", tok.Expiry))
	return m.token, nil
}
