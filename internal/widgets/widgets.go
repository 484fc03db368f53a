package widgets

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/atsn/emily/internal/types"
)

// DateLayout of the dates shown on a connection card.
const DateLayout = "Jan 2, 2006"

// DefaultColor of an empty color picker.
const DefaultColor = "#000000"

// Connection methods.
const (
	MethodOAuth       = "oauth"
	MethodCredentials = "credentials"
)

var validate = validator.New()

// Connection of a social media account, as reported by the backend.
type Connection struct {
	Platform         string           `json:"platform"`
	AccountName      string           `json:"account_name,omitempty"`
	PageName         string           `json:"page_name,omitempty"`
	AccountType      string           `json:"account_type,omitempty"`
	PageUsername     string           `json:"page_username,omitempty"`
	AccountID        string           `json:"account_id,omitempty"`
	PageID           string           `json:"page_id,omitempty"`
	ConnectionMethod string           `json:"connection_method,omitempty"`
	IsActive         bool             `json:"is_active"`
	ConnectedAt      *types.Timestamp `json:"connected_at,omitempty"`
	LastSyncAt       *types.Timestamp `json:"last_sync_at,omitempty"`
	FollowerCount    int              `json:"follower_count,omitempty"`
	SubscriberCount  int              `json:"subscriber_count,omitempty"`
}

// Card is the display form of a Connection.
type Card struct {
	Platform    string `json:"platform"`
	Account     string `json:"account"`
	Active      bool   `json:"active"`
	Status      string `json:"status"`
	Method      string `json:"method"`
	AccountType string `json:"account_type,omitempty"`
	AccountID   string `json:"account_id,omitempty"`
	ConnectedAt string `json:"connected_at"`
	LastSyncAt  string `json:"last_sync_at"`
	// Followers is zero when too small to be worth showing.
	Followers   int    `json:"followers,omitempty"`
}

// NewCard derives the card of c, formatting dates in loc.
func NewCard(c *Connection, loc *time.Location) *Card {
	card := &Card{
		Platform:    platformName(c.Platform),
		Account:     firstNonEmpty(c.AccountName, c.PageName, "Connected Account"),
		Active:      c.IsActive,
		Status:      "Disconnected",
		Method:      "Credentials",
		AccountID:   firstNonEmpty(c.AccountID, c.PageID),
		ConnectedAt: FormatDate(c.ConnectedAt, loc),
		LastSyncAt:  FormatDate(c.LastSyncAt, loc),
	}
	if c.IsActive {
		card.Status = "Connected"
	}
	if c.ConnectionMethod == MethodOAuth {
		card.Method = "OAuth"
	}
	switch {
	case c.AccountType != "":
		card.AccountType = c.AccountType
	case c.PageUsername != "":
		card.AccountType = "Business"
	case c.AccountID != "" || c.PageID != "":
		card.AccountType = "Personal"
	}
	if followers := max(c.FollowerCount, c.SubscriberCount); followers > 10 {
		card.Followers = followers
	}
	return card
}

// FormatDate formats t for a card, or "Never" when absent.
func FormatDate(t *types.Timestamp, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return "Never"
	}
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateLayout)
}

// ValidColor is true for a #RRGGBB color.
func ValidColor(value string) bool {
	return validate.Var(value, "required,len=7,hexcolor") == nil
}

// NormalizeColor returns value in upper case, DefaultColor when empty, and false when invalid.
func NormalizeColor(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultColor, true
	}
	if !ValidColor(value) {
		return "", false
	}
	return strings.ToUpper(value), true
}

func platformName(platform string) string {
	switch strings.ToLower(platform) {
	case "facebook":
		return "Facebook"
	case "instagram":
		return "Instagram"
	case "linkedin":
		return "LinkedIn"
	case "twitter", "x":
		return "X (Twitter)"
	case "youtube":
		return "YouTube"
	case "":
		return "Unknown"
	}
	return strings.ToUpper(platform[:1]) + platform[1:]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
