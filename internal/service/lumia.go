package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/push21/challengebot/internal/domain"
)

// BalanceAuthority is the external service that owns the real NUMBERS
// balances. The local Account.Balance is a cache of it; every debit and
// credit the engine commits is mirrored here.
type BalanceAuthority interface {
	Debit(ctx context.Context, platform, platformID string, amount int64) (int64, error)
	Credit(ctx context.Context, platform, platformID string, amount int64) (int64, error)
	Balance(ctx context.Context, platform, platformID string) (int64, error)
}

// LumiaClient talks to the Lumia currency API over HTTP.
type LumiaClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewLumiaClient(baseURL, token string) *LumiaClient {
	return &LumiaClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type lumiaMutation struct {
	Platform   string `json:"platform"`
	PlatformID string `json:"platformId"`
	Amount     int64  `json:"amount"`
}

type lumiaBalanceResponse struct {
	Balance int64  `json:"balance"`
	Error   string `json:"error,omitempty"`
}

func (c *LumiaClient) Debit(ctx context.Context, platform, platformID string, amount int64) (int64, error) {
	return c.mutate(ctx, "/currency/debit", platform, platformID, amount)
}

func (c *LumiaClient) Credit(ctx context.Context, platform, platformID string, amount int64) (int64, error) {
	return c.mutate(ctx, "/currency/credit", platform, platformID, amount)
}

func (c *LumiaClient) mutate(ctx context.Context, path, platform, platformID string, amount int64) (int64, error) {
	payload, err := json.Marshal(lumiaMutation{Platform: platform, PlatformID: platformID, Amount: amount})
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	var parsed lumiaBalanceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("parse response: %w", err)
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		return 0, domain.ErrInsufficientBalance
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("lumia %s: status %d: %s", path, resp.StatusCode, parsed.Error)
	}
	return parsed.Balance, nil
}

func (c *LumiaClient) Balance(ctx context.Context, platform, platformID string) (int64, error) {
	url := fmt.Sprintf("%s/currency/balance?platform=%s&platformId=%s", c.baseURL, platform, platformID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var parsed lumiaBalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("lumia balance: status %d: %s", resp.StatusCode, parsed.Error)
	}
	return parsed.Balance, nil
}

// MockAuthority is the in-process stand-in used when Lumia is disabled. It
// keeps its own balances so the cache-consistency contract can still be
// exercised end to end.
type MockAuthority struct {
	mu       sync.Mutex
	starting int64
	balances map[string]int64
}

func NewMockAuthority(starting int64) *MockAuthority {
	return &MockAuthority{starting: starting, balances: make(map[string]int64)}
}

func (m *MockAuthority) key(platform, platformID string) string {
	return platform + ":" + platformID
}

func (m *MockAuthority) get(platform, platformID string) int64 {
	k := m.key(platform, platformID)
	if _, ok := m.balances[k]; !ok {
		m.balances[k] = m.starting
	}
	return m.balances[k]
}

func (m *MockAuthority) Debit(ctx context.Context, platform, platformID string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.get(platform, platformID)
	if bal < amount {
		return 0, domain.ErrInsufficientBalance
	}
	bal -= amount
	m.balances[m.key(platform, platformID)] = bal
	return bal, nil
}

func (m *MockAuthority) Credit(ctx context.Context, platform, platformID string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.get(platform, platformID) + amount
	m.balances[m.key(platform, platformID)] = bal
	return bal, nil
}

func (m *MockAuthority) Balance(ctx context.Context, platform, platformID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(platform, platformID), nil
}
