// Package errors provides the pipeline's shared error taxonomy.
// Components return these sentinels (wrapped with fmt.Errorf("%w", ...)
// for context) so the Workflow Engine and Integrated Crawler can branch
// on failure class without string matching.
//
// Naming conventions:
//   - Exported errors (Err*): Use for errors that callers need to check with errors.Is
//   - All sentinel errors are package-level variables, never inline errors.New calls
//   - Use fmt.Errorf with %w to wrap sentinel errors with context
package errors

import "errors"

// Credential and access errors, raised by the WeChat Link Discoverer
// and the Browser Fetcher when the stored session can no longer
// authenticate.
var (
	// ErrCredentialsExpired indicates a session token/cookie must be refreshed
	// before crawling can continue.
	ErrCredentialsExpired = errors.New("credentials expired")

	// ErrAuthentication indicates a site login attempt failed outright
	// (bad selectors, rejected credentials, no session established).
	ErrAuthentication = errors.New("authentication failed")
)

// Throttling and blocking errors.
var (
	// ErrRateLimited indicates the upstream API or site throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrCloudflareBlocked indicates a Cloudflare interstitial could not be
	// cleared within the configured wait budget.
	ErrCloudflareBlocked = errors.New("blocked by cloudflare challenge")
)

// Extraction and publish errors.
var (
	// ErrExtraction indicates content extraction produced no usable article.
	ErrExtraction = errors.New("content extraction failed")

	// ErrPublish indicates the forum republish transaction could not complete.
	ErrPublish = errors.New("forum publish failed")
)

// Timing and connectivity errors.
var (
	// ErrTimeout indicates an operation exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrDatabase indicates a storage-layer failure not specific to one query.
	ErrDatabase = errors.New("database error")
)

// Configuration errors.
var (
	// ErrConfig indicates configuration could not be loaded or was incomplete.
	ErrConfig = errors.New("configuration error")
)

// Generic lookups shared across components.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a caller supplied a malformed argument.
	ErrInvalidInput = errors.New("invalid input")
)

// Is is a convenience wrapper around errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool { return errors.As(err, target) }
