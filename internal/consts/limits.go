package consts

import "time"

// Generation budgets
const (
	// DefaultMaxNewTokens is the token budget for the first generation call
	DefaultMaxNewTokens = 400
	// ContinuationMaxTokens is the smaller budget for the single follow-up
	// call issued when a response looks truncated
	ContinuationMaxTokens = 150
	// MinCompleteWords is the minimum whitespace-delimited word count below
	// which a generated response is considered incomplete
	MinCompleteWords = 15
)

// Timeouts for various operations
const (
	// ProviderTimeout bounds a single generation call to the provider
	ProviderTimeout = 2 * time.Minute
	// CancelAckTimeout bounds how long a session switch or shutdown waits
	// for an in-flight generation to acknowledge cancellation before the
	// task is abandoned
	CancelAckTimeout = 5 * time.Second
	// StoreTimeout bounds a single store operation
	StoreTimeout = 10 * time.Second
)

// Input limits
const (
	// MaxSessionNameLen is the longest session display name the store accepts
	MaxSessionNameLen = 80
)
