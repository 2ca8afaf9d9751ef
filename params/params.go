package params

import "time"

const (
	ServerBodyLimit    = 1048576
	ServerIdleTimeout  = 30 * time.Second
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 10 * time.Second

	// ProviderRequestTimeout bounds every call to the identity provider and
	// the QuickBooks API.
	ProviderRequestTimeout = 15 * time.Second

	// TokenExpirySkew treats an access token as expired this long before its
	// actual expiry to absorb clock drift between us and the provider.
	TokenExpirySkew = 60 * time.Second

	// AuthStateTTL is how long an issued anti-forgery state stays valid
	// waiting for the provider callback.
	AuthStateTTL = 10 * time.Minute

	// QuickBooksMinorVersion pins the QBO API minor version for all queries.
	QuickBooksMinorVersion = "75"

	// RateLimitMaxRetries caps retries on QuickBooks 429 responses.
	RateLimitMaxRetries = 3
	// RateLimitRetryDelay is used when the 429 carries no Retry-After header.
	RateLimitRetryDelay = 1 * time.Second
)
