package domain

import (
	"fmt"
	"strings"
	"time"
)

type ReferenceKind string

const (
	RefChannelID   ReferenceKind = "id"
	RefChannelName ReferenceKind = "name"
)

// Reference is a caller-supplied destination: either a canonical channel ID
// or a human channel name that still has to be resolved.
type Reference struct {
	Raw   string        `json:"raw"`
	Kind  ReferenceKind `json:"kind"`
	Value string        `json:"value"`
}

// ParseReference classifies raw as a channel ID when it has the platform's ID
// shape (C/G/D/Z prefix, at least 9 characters); otherwise it is a name with
// any leading '#' removed.
func ParseReference(raw string) Reference {
	s := strings.TrimSpace(raw)
	if LooksLikeChannelID(s) {
		return Reference{Raw: raw, Kind: RefChannelID, Value: s}
	}
	return Reference{Raw: raw, Kind: RefChannelName, Value: strings.TrimLeft(s, "#")}
}

func LooksLikeChannelID(s string) bool {
	if len(s) < 9 {
		return false
	}
	switch s[0] {
	case 'C', 'G', 'D', 'Z':
		return true
	}
	return false
}

func (r Reference) IsID() bool { return r.Kind == RefChannelID }

func (r Reference) String() string { return r.Raw }

// Channel is one entry of the platform's channel listing.
type Channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsPrivate  bool   `json:"is_private"`
	IsMember   bool   `json:"-"`
	NumMembers int    `json:"num_members"`
}

// Artifact is the rendered image plus the text that accompanies it.
// It is never mutated after BuildArtifact returns.
type Artifact struct {
	Image    []byte
	Filename string
	Title    string
	Caption  string
}

// ArtifactRequest carries what the artifact producer needs.
type ArtifactRequest struct {
	SourceURL   string
	BuildNumber string
	Options     QROptions
}

type QROptions struct {
	BoxSize   int    `json:"box_size,omitempty" yaml:"boxSize"`
	Border    *int   `json:"border,omitempty" yaml:"border"`
	FillColor string `json:"fill_color,omitempty" yaml:"fillColor"`
	BackColor string `json:"back_color,omitempty" yaml:"backColor"`
}

const (
	DefaultBoxSize   = 10
	DefaultBorder    = 4
	DefaultFillColor = "black"
	DefaultBackColor = "white"

	MaxBoxSize = 50
	MaxBorder  = 20
)

// WithDefaults fills every unset option. Border uses a pointer so an explicit
// zero border survives.
func (o QROptions) WithDefaults() QROptions {
	if o.BoxSize == 0 {
		o.BoxSize = DefaultBoxSize
	}
	if o.Border == nil {
		b := DefaultBorder
		o.Border = &b
	}
	if strings.TrimSpace(o.FillColor) == "" {
		o.FillColor = DefaultFillColor
	}
	if strings.TrimSpace(o.BackColor) == "" {
		o.BackColor = DefaultBackColor
	}
	return o
}

func (o QROptions) BorderValue() int {
	if o.Border == nil {
		return DefaultBorder
	}
	return *o.Border
}

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

type FailureKind string

const (
	FailureResolution     FailureKind = "resolution"
	FailureTerminal       FailureKind = "terminal"
	FailureRetryExhausted FailureKind = "retry_exhausted"
)

// DeliveryOutcome is the result for one destination of one deliver call.
type DeliveryOutcome struct {
	Reference   Reference     `json:"-"`
	ChannelID   string        `json:"channel_id,omitempty"`
	ChannelName string        `json:"channel_name,omitempty"`
	Status      OutcomeStatus `json:"status"`
	FileID      string        `json:"file_id,omitempty"`
	Error       string        `json:"error,omitempty"`
	Retriable   bool          `json:"retriable"`
	Attempts    int           `json:"attempts"`
	FailureKind FailureKind   `json:"failure_kind,omitempty"`
	Duration    time.Duration `json:"-"`
}

func (o DeliveryOutcome) Succeeded() bool { return o.Status == OutcomeSuccess }

func Succeeded(ref Reference, channelID, fileID string, attempts int) DeliveryOutcome {
	return DeliveryOutcome{
		Reference: ref,
		ChannelID: channelID,
		Status:    OutcomeSuccess,
		FileID:    fileID,
		Attempts:  attempts,
	}
}

func Failed(ref Reference, channelID string, kind FailureKind, reason string, retriable bool, attempts int) DeliveryOutcome {
	return DeliveryOutcome{
		Reference:   ref,
		ChannelID:   channelID,
		Status:      OutcomeFailed,
		Error:       reason,
		Retriable:   retriable,
		Attempts:    attempts,
		FailureKind: kind,
	}
}

// DestinationResult is the wire form of one (destination, outcome) pair.
type DestinationResult struct {
	Channel string `json:"channel"`
	DeliveryOutcome
}

// BroadcastSummary is the folded view of a deliver call. PerDestination keeps
// the caller's destination order.
type BroadcastSummary struct {
	TotalCount     int                 `json:"total_count"`
	SuccessCount   int                 `json:"success_count"`
	FailedCount    int                 `json:"failed_count"`
	PerDestination []DestinationResult `json:"results"`
}

func (s BroadcastSummary) Message() string {
	return fmt.Sprintf("Sent to %d/%d destinations", s.SuccessCount, s.TotalCount)
}

// Single returns the only outcome of a one-destination summary.
func (s BroadcastSummary) Single() (DeliveryOutcome, bool) {
	if len(s.PerDestination) != 1 {
		return DeliveryOutcome{}, false
	}
	return s.PerDestination[0].DeliveryOutcome, s.SuccessCount == 1
}

type BackoffPolicy string

const (
	BackoffFixed          BackoffPolicy = "fixed"
	BackoffLinear         BackoffPolicy = "linear"
	BackoffExponential    BackoffPolicy = "exponential"
	BackoffExpEqualJitter BackoffPolicy = "exp_equal_jitter"
	BackoffExpFullJitter  BackoffPolicy = "exp_full_jitter"
)

// RetryPolicy is shared read-only by every upload in the process.
// MaxAttempts counts the first try: 3 means one try plus two retries.
// A zero MaxDelay leaves the schedule uncapped.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Policy      BackoffPolicy
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
		Policy:      BackoffExponential,
	}
}

func (p RetryPolicy) Normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDelay < 0 {
		p.MaxDelay = 0
	}
	if p.Policy == "" {
		p.Policy = BackoffExponential
	}
	return p
}

// ChannelSweep is the summary of a broadcast to every member channel.
// TotalChannels counts the member channels found when the sweep started.
type ChannelSweep struct {
	BroadcastSummary
	TotalChannels int `json:"total_channels"`
}
