// Package model defines the domain types used across the application.
package model

import (
	"log/slog"
	"time"
)

// Status is the lifecycle state of an item.
type Status string

// Item lifecycle states.
const (
	StatusPending          Status = "PENDING"
	StatusProcessing       Status = "PROCESSING"
	StatusSkippedDuplicate Status = "SKIPPED_DUPLICATE"
	StatusFailedSanity     Status = "FAILED_SANITY"
	StatusPublished        Status = "PUBLISHED"
	StatusFailedCrawl      Status = "FAILED_CRAWL"
	StatusFailedAI         Status = "FAILED_AI"
	StatusFailedWP         Status = "FAILED_WP"
)

// AllStatuses lists every status in pipeline order.
var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusPublished,
	StatusSkippedDuplicate,
	StatusFailedCrawl,
	StatusFailedAI,
	StatusFailedSanity,
	StatusFailedWP,
}

// FailedStatuses are the terminal states an operator may requeue.
var FailedStatuses = []Status{
	StatusFailedCrawl,
	StatusFailedAI,
	StatusFailedSanity,
	StatusFailedWP,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Failed reports whether s is a FAILED_* state.
func (s Status) Failed() bool {
	for _, v := range FailedStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether a pipeline run ends in s.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusProcessing
}

// Credentials hold the publish secret of a tenant. They never print their
// password, so tenants can be logged safely.
type Credentials struct {
	Username string
	Password string
}

// String implements fmt.Stringer.
func (c Credentials) String() string {
	if c.Password == "" {
		return c.Username
	}
	return c.Username + ":***"
}

// LogValue implements slog.LogValuer.
func (c Credentials) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

// Tenant is one publishing target, usually a city site.
type Tenant struct {
	ID              int64
	Slug            string
	Name            string
	City            string
	FeedURL         string
	PublishEndpoint string
	Credentials     Credentials
	IsActive        bool
	LastPolledAt    *time.Time
	CreatedAt       time.Time
}

// Item is one discovered article and its pipeline state.
type Item struct {
	ID             int64
	TenantID       int64
	SourceURL      string
	URLHash        string
	TitleOriginal  string
	ContentHash    string
	Status         Status
	RetryCount     int
	ErrorMessage   string
	TitleRewritten string
	Excerpt        string
	PostID         string
	PublishedURL   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PublishedAt    *time.Time
}

// LogOutcome is the result of one pipeline step.
type LogOutcome string

// Step outcomes recorded in the processing log.
const (
	OutcomeOK      LogOutcome = "ok"
	OutcomeFailed  LogOutcome = "failed"
	OutcomeSkipped LogOutcome = "skipped"
)

// LogEntry is an append-only record of a pipeline step attempted for an item.
type LogEntry struct {
	ID        int64
	ItemID    int64
	RunID     string
	Step      string
	Outcome   LogOutcome
	Detail    string
	CreatedAt time.Time
}

// FingerprintKind separates URL and content digests.
type FingerprintKind string

// Fingerprint kinds.
const (
	FingerprintURL     FingerprintKind = "url"
	FingerprintContent FingerprintKind = "content"
)

// StatusCount is the number of items in a given status.
type StatusCount struct {
	Status Status
	Count  int
}

// Publication is what a successful publish step leaves on an item.
type Publication struct {
	PostID         string
	URL            string
	TitleRewritten string
	Excerpt        string
	PublishedAt    time.Time
}
