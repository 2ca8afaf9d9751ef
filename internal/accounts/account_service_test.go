package accounts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nominal-hq/qbo-gateway/internal/oauth"
	"github.com/nominal-hq/qbo-gateway/internal/repository"
	"github.com/nominal-hq/qbo-gateway/model"
)

const accountsPayload = `{
	"QueryResponse": {
		"Account": [
			{"Id": "1", "Name": "Bank of X", "AccountType": "Bank", "Active": true, "CurrentBalance": 1200.5},
			{"Id": "2", "Name": "Checking", "AccountType": "Bank", "Active": true},
			{"Id": "3", "Name": "Banking Reserve", "AccountType": "Bank", "Active": false}
		]
	}
}`

type fakeTokenRepo struct {
	tokens      map[string]*model.QuickBooksToken
	updateCalls int
	staleCAS    bool
}

func newFakeTokenRepo(tokens ...*model.QuickBooksToken) *fakeTokenRepo {
	repo := &fakeTokenRepo{tokens: make(map[string]*model.QuickBooksToken)}
	for _, token := range tokens {
		repo.tokens[token.RealmID] = token
	}
	return repo
}

func (r *fakeTokenRepo) GetByRealmID(ctx context.Context, realmID string) (*model.QuickBooksToken, error) {
	token, ok := r.tokens[realmID]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	copied := *token
	return &copied, nil
}

func (r *fakeTokenRepo) UpdateRefreshed(ctx context.Context, realmID string, prevRefreshToken string, token *model.QuickBooksToken) (bool, error) {
	r.updateCalls++
	if r.staleCAS {
		return false, nil
	}
	current, ok := r.tokens[realmID]
	if !ok || current.RefreshToken != prevRefreshToken {
		return false, nil
	}
	copied := *token
	r.tokens[realmID] = &copied
	return true, nil
}

type fakeRefresher struct {
	calls int
	token *oauth.Token
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

func validRealmToken(realmID string) *model.QuickBooksToken {
	return &model.QuickBooksToken{
		RealmID:      realmID,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func expiredRealmToken(realmID string) *model.QuickBooksToken {
	token := validRealmToken(realmID)
	token.ExpiresAt = time.Now().Add(-time.Minute)
	return token
}

func refreshedOAuthToken() *oauth.Token {
	return &oauth.Token{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		TokenType:    "bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
}

func accountsTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestListAccountsNotAuthenticated(t *testing.T) {
	service := NewAccountService(newFakeTokenRepo(), &fakeRefresher{}, "http://unused", nil)
	_, err := service.ListAccounts(context.Background(), "realm-1", "")
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("want ErrNotAuthenticated, got %v", err)
	}
}

func TestListAccounts(t *testing.T) {
	srv := accountsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			t.Errorf("unexpected authorization header %q", r.Header.Get("Authorization"))
		}
		if r.URL.Query().Get("minorversion") == "" {
			t.Error("minorversion query param missing")
		}
		w.Write([]byte(accountsPayload))
	})

	service := NewAccountService(newFakeTokenRepo(validRealmToken("realm-1")), &fakeRefresher{}, srv.URL, srv.Client())
	list, err := service.ListAccounts(context.Background(), "realm-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("want 3 accounts, got %d", len(list))
	}
	if list[0].Name != "Bank of X" || list[0].Type != "Bank" || list[0].CurrentBalance != 1200.5 {
		t.Fatalf("unexpected first account: %+v", list[0])
	}
}

func TestListAccountsPrefixFilter(t *testing.T) {
	srv := accountsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(accountsPayload))
	})

	service := NewAccountService(newFakeTokenRepo(validRealmToken("realm-1")), &fakeRefresher{}, srv.URL, srv.Client())
	list, err := service.ListAccounts(context.Background(), "realm-1", "Bank")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("want 2 accounts, got %d", len(list))
	}
	if list[0].Name != "Bank of X" || list[1].Name != "Banking Reserve" {
		t.Fatalf("unexpected filter result: %q, %q", list[0].Name, list[1].Name)
	}
}

func TestListAccountsRefreshOnExpiry(t *testing.T) {
	srv := accountsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-2" {
			t.Errorf("request did not use refreshed token: %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(accountsPayload))
	})

	repo := newFakeTokenRepo(expiredRealmToken("realm-1"))
	refresher := &fakeRefresher{token: refreshedOAuthToken()}
	service := NewAccountService(repo, refresher, srv.URL, srv.Client())

	if _, err := service.ListAccounts(context.Background(), "realm-1", ""); err != nil {
		t.Fatal(err)
	}
	if refresher.calls != 1 {
		t.Fatalf("want exactly 1 refresh, got %d", refresher.calls)
	}
	if repo.tokens["realm-1"].AccessToken != "access-2" {
		t.Fatal("refreshed token was not persisted")
	}
}

func TestListAccountsExpiryBoundarySkew(t *testing.T) {
	srv := accountsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(accountsPayload))
	})

	// expires in 30s: inside the 60s skew window, so it must refresh
	token := validRealmToken("realm-1")
	token.ExpiresAt = time.Now().Add(30 * time.Second)
	repo := newFakeTokenRepo(token)
	refresher := &fakeRefresher{token: refreshedOAuthToken()}
	service := NewAccountService(repo, refresher, srv.URL, srv.Client())

	if _, err := service.ListAccounts(context.Background(), "realm-1", ""); err != nil {
		t.Fatal(err)
	}
	if refresher.calls != 1 {
		t.Fatalf("token within skew window must refresh exactly once, got %d", refresher.calls)
	}
}

func TestListAccountsRefreshRejected(t *testing.T) {
	repo := newFakeTokenRepo(expiredRealmToken("realm-1"))
	refresher := &fakeRefresher{err: &oauth.AuthError{StatusCode: 400, Code: "invalid_grant"}}
	service := NewAccountService(repo, refresher, "http://unused", nil)

	_, err := service.ListAccounts(context.Background(), "realm-1", "")
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("want ErrReauthRequired, got %v", err)
	}
}

func TestListAccountsRetryAfter401(t *testing.T) {
	requests := 0
	srv := accountsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(accountsPayload))
	})

	repo := newFakeTokenRepo(validRealmToken("realm-1"))
	refresher := &fakeRefresher{token: refreshedOAuthToken()}
	service := NewAccountService(repo, refresher, srv.URL, srv.Client())

	list, err := service.ListAccounts(context.Background(), "realm-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("want 3 accounts after retry, got %d", len(list))
	}
	if refresher.calls != 1 {
		t.Fatalf("want exactly 1 forced refresh, got %d", refresher.calls)
	}
	if requests != 2 {
		t.Fatalf("want exactly 2 downstream requests, got %d", requests)
	}
}

func TestListAccountsPersistent401(t *testing.T) {
	requests := 0
	srv := accountsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
	})

	repo := newFakeTokenRepo(validRealmToken("realm-1"))
	refresher := &fakeRefresher{token: refreshedOAuthToken()}
	service := NewAccountService(repo, refresher, srv.URL, srv.Client())

	_, err := service.ListAccounts(context.Background(), "realm-1", "")
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("want ErrReauthRequired, got %v", err)
	}
	if requests != 2 {
		t.Fatalf("a second 401 must not be retried, got %d requests", requests)
	}
}

func TestListAccountsDownstreamError(t *testing.T) {
	srv := accountsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	service := NewAccountService(newFakeTokenRepo(validRealmToken("realm-1")), &fakeRefresher{}, srv.URL, srv.Client())
	_, err := service.ListAccounts(context.Background(), "realm-1", "")
	var downstreamErr *DownstreamError
	if !errors.As(err, &downstreamErr) {
		t.Fatalf("want *DownstreamError, got %v", err)
	}
	if downstreamErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", downstreamErr.StatusCode)
	}
}

func TestListAccountsEmptyResponse(t *testing.T) {
	srv := accountsTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	service := NewAccountService(newFakeTokenRepo(validRealmToken("realm-1")), &fakeRefresher{}, srv.URL, srv.Client())
	list, err := service.ListAccounts(context.Background(), "realm-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("want empty list, got %d accounts", len(list))
	}
}

func TestListAccountsRateLimitRetry(t *testing.T) {
	requests := 0
	srv := accountsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(accountsPayload))
	})

	service := NewAccountService(newFakeTokenRepo(validRealmToken("realm-1")), &fakeRefresher{}, srv.URL, srv.Client())
	list, err := service.ListAccounts(context.Background(), "realm-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("want 3 accounts after rate limit retry, got %d", len(list))
	}
	if requests != 2 {
		t.Fatalf("want 2 downstream requests, got %d", requests)
	}
}

func TestListAccountsRefreshRaceLost(t *testing.T) {
	winner := validRealmToken("realm-1")
	winner.AccessToken = "access-winner"
	winner.RefreshToken = "refresh-winner"

	srv := accountsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-winner" {
			t.Errorf("lost race must re-read winner's token, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(accountsPayload))
	})

	// conditional update reports stale: a concurrent refresh already rotated
	// the tokens. The stored row is the winner's credential set, marked
	// expired so the first read goes down the refresh path.
	winner.ExpiresAt = time.Now().Add(-time.Minute)
	repo := newFakeTokenRepo(winner)
	repo.staleCAS = true

	refresher := &fakeRefresher{token: refreshedOAuthToken()}
	service := NewAccountService(repo, refresher, srv.URL, srv.Client())

	if _, err := service.ListAccounts(context.Background(), "realm-1", ""); err != nil {
		t.Fatal(err)
	}
	if repo.updateCalls != 1 {
		t.Fatalf("want 1 conditional update attempt, got %d", repo.updateCalls)
	}
}
