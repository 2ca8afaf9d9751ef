package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nominal-hq/qbo-gateway/internal/oauth"
	"github.com/nominal-hq/qbo-gateway/internal/repository"
	"github.com/nominal-hq/qbo-gateway/model"
	"github.com/nominal-hq/qbo-gateway/params"
)

const accountsQuery = "SELECT * FROM Account"

// Account is the caller-facing view of a QuickBooks account record.
type Account struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	SubType        string  `json:"sub_type,omitempty"`
	Classification string  `json:"classification,omitempty"`
	Active         bool    `json:"active"`
	CurrentBalance float64 `json:"current_balance"`
	Currency       string  `json:"currency,omitempty"`
}

type TokenRepository interface {
	GetByRealmID(ctx context.Context, realmID string) (*model.QuickBooksToken, error)
	UpdateRefreshed(ctx context.Context, realmID string, prevRefreshToken string, token *model.QuickBooksToken) (bool, error)
}

type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth.Token, error)
}

// AccountService reads the account list from QuickBooks for a realm,
// refreshing the realm's access token first when it has expired.
type AccountService struct {
	tokenRepo  TokenRepository
	refresher  TokenRefresher
	apiBaseURL string
	httpClient *http.Client
}

func NewAccountService(tokenRepo TokenRepository, refresher TokenRefresher, apiBaseURL string, httpClient *http.Client) *AccountService {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: params.ProviderRequestTimeout}
	}
	return &AccountService{
		tokenRepo:  tokenRepo,
		refresher:  refresher,
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		httpClient: httpClient,
	}
}

// ListAccounts returns the realm's accounts in provider order, optionally
// narrowed to names starting with namePrefix. The prefix filter is applied
// locally so behavior does not depend on provider query semantics. A
// downstream 401 is retried exactly once after a forced token refresh.
func (s *AccountService) ListAccounts(ctx context.Context, realmID string, namePrefix string) ([]Account, error) {
	token, err := s.validToken(ctx, realmID)
	if err != nil {
		return nil, err
	}

	list, err := s.queryAccounts(ctx, realmID, token.AccessToken)
	if errors.Is(err, errUnauthorized) {
		slog.Info("access token rejected, forcing refresh", "realmId", realmID)
		token, err = s.refreshToken(ctx, token)
		if err != nil {
			return nil, err
		}
		list, err = s.queryAccounts(ctx, realmID, token.AccessToken)
		if errors.Is(err, errUnauthorized) {
			return nil, ErrReauthRequired
		}
	}
	if err != nil {
		return nil, err
	}

	return filterByPrefix(list, namePrefix), nil
}

// validToken loads the realm's credentials and refreshes them when the
// access token has expired (with clock-skew tolerance).
func (s *AccountService) validToken(ctx context.Context, realmID string) (*model.QuickBooksToken, error) {
	token, err := s.tokenRepo.GetByRealmID(ctx, realmID)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, err
	}
	if token.Expired(time.Now(), params.TokenExpirySkew) {
		return s.refreshToken(ctx, token)
	}
	return token, nil
}

// refreshToken rotates the credential set via the provider and persists it.
// The update is conditional on the previous refresh token; losing that race
// means another request already refreshed, so the winner's row is used.
func (s *AccountService) refreshToken(ctx context.Context, token *model.QuickBooksToken) (*model.QuickBooksToken, error) {
	newToken, err := s.refresher.Refresh(ctx, token.RefreshToken)
	if err != nil {
		var authErr *oauth.AuthError
		if errors.As(err, &authErr) {
			slog.Warn("refresh token rejected", "realmId", token.RealmID, "error", err)
			return nil, ErrReauthRequired
		}
		return nil, err
	}

	refreshed := &model.QuickBooksToken{
		RealmID:          token.RealmID,
		AccessToken:      newToken.AccessToken,
		RefreshToken:     newToken.RefreshToken,
		TokenType:        newToken.TokenType,
		ExpiresAt:        newToken.Expiry,
		RefreshExpiresAt: oauth.RefreshTokenExpiry(newToken),
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = token.RefreshToken
	}

	ok, err := s.tokenRepo.UpdateRefreshed(ctx, token.RealmID, token.RefreshToken, refreshed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.tokenRepo.GetByRealmID(ctx, token.RealmID)
	}
	return refreshed, nil
}

func (s *AccountService) queryAccounts(ctx context.Context, realmID string, accessToken string) ([]Account, error) {
	endpoint := fmt.Sprintf("%s/v3/company/%s/query?minorversion=%s",
		s.apiBaseURL, url.PathEscape(realmID), params.QuickBooksMinorVersion)

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(accountsQuery))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/text")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, &DownstreamError{Message: err.Error()}
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &DownstreamError{StatusCode: resp.StatusCode, Message: err.Error()}
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if attempt+1 >= params.RateLimitMaxRetries {
				return nil, &DownstreamError{StatusCode: resp.StatusCode, Message: "rate limit exceeded"}
			}
			delay := retryAfter(resp)
			slog.Warn("quickbooks rate limit hit", "realmId", realmID, "retryAfter", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, errUnauthorized
		}
		if resp.StatusCode >= 400 {
			return nil, &DownstreamError{StatusCode: resp.StatusCode, Message: truncate(string(body), 512)}
		}

		return parseAccounts(body)
	}
}

func parseAccounts(body []byte) ([]Account, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return []Account{}, nil
	}

	var payload struct {
		QueryResponse struct {
			Account []struct {
				ID             string  `json:"Id"`
				Name           string  `json:"Name"`
				AccountType    string  `json:"AccountType"`
				AccountSubType string  `json:"AccountSubType"`
				Classification string  `json:"Classification"`
				Active         bool    `json:"Active"`
				CurrentBalance float64 `json:"CurrentBalance"`
				CurrencyRef    struct {
					Value string `json:"value"`
				} `json:"CurrencyRef"`
			} `json:"Account"`
		} `json:"QueryResponse"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &DownstreamError{Message: fmt.Sprintf("invalid JSON response: %v", err)}
	}

	accounts := make([]Account, 0, len(payload.QueryResponse.Account))
	for _, acc := range payload.QueryResponse.Account {
		accounts = append(accounts, Account{
			ID:             acc.ID,
			Name:           acc.Name,
			Type:           acc.AccountType,
			SubType:        acc.AccountSubType,
			Classification: acc.Classification,
			Active:         acc.Active,
			CurrentBalance: acc.CurrentBalance,
			Currency:       acc.CurrencyRef.Value,
		})
	}
	return accounts, nil
}

// filterByPrefix keeps accounts whose name starts with prefix, preserving
// provider order. Matching is case-sensitive.
func filterByPrefix(list []Account, prefix string) []Account {
	if prefix == "" {
		return list
	}
	filtered := make([]Account, 0, len(list))
	for _, acc := range list {
		if strings.HasPrefix(acc.Name, prefix) {
			filtered = append(filtered, acc)
		}
	}
	return filtered
}

func retryAfter(resp *http.Response) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return params.RateLimitRetryDelay
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
