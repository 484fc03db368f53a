package conversation

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/atsn/emily/internal/types"
)

const (
	// DateLabelLayout is the long date used both as bucket label and bucket key.
	DateLabelLayout = "January 2, 2006"

	previewLength = 50
	previewSuffix = "..."
)

// Message filters.
const (
	FilterAll   = "all"
	FilterEmily = "emily"
	FilterChase = "chase"
	FilterLeo   = "leo"
)

// Filters in display order.
var Filters = []string{FilterAll, FilterEmily, FilterChase, FilterLeo}

// DateGroup holds the conversations of a single local calendar day.
type DateGroup struct {
	// DateLabel is the day formatted with DateLabelLayout.
	DateLabel string
	// DateValue is midnight of the day in the grouping location.
	DateValue time.Time
	// Conversations of the day, ascending by timestamp.
	Conversations []*types.Conversation
	// LastConversation is the chronologically final entry of the day.
	LastConversation *types.Conversation
}

// GroupByDate buckets conversations by calendar day in loc.
// Buckets are ordered most recent day first; entries within a bucket are ascending by
// timestamp, ties keeping their input order. The input slice is not modified.
func GroupByDate(conversations []*types.Conversation, loc *time.Location) []*DateGroup {
	if loc == nil {
		loc = time.Local
	}

	var groups []*DateGroup
	byLabel := map[string]*DateGroup{}
	for _, c := range conversations {
		local := c.CreatedAt.In(loc)
		label := local.Format(DateLabelLayout)
		group, ok := byLabel[label]
		if !ok {
			group = &DateGroup{
				DateLabel: label,
				DateValue: time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc),
			}
			byLabel[label] = group
			groups = append(groups, group)
		}
		group.Conversations = append(group.Conversations, c)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].DateValue.After(groups[j].DateValue)
	})
	for _, group := range groups {
		entries := group.Conversations
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt.Time)
		})
		group.LastConversation = entries[len(entries)-1]
	}
	return groups
}

// Flatten concatenates the conversations of the groups in group order.
func Flatten(groups []*DateGroup) []*types.Conversation {
	var out []*types.Conversation
	for _, group := range groups {
		out = append(out, group.Conversations...)
	}
	return out
}

// Filter returns the conversations visible under the given message filter.
// User messages are always visible. Assistant messages without an agent belong to Emily.
func Filter(conversations []*types.Conversation, filter string) []*types.Conversation {
	if filter == "" || filter == FilterAll {
		return conversations
	}
	var out []*types.Conversation
	for _, c := range conversations {
		if c.IsUser() {
			out = append(out, c)
			continue
		}
		agent := strings.ToLower(c.AgentName)
		if agent == "" {
			agent = FilterEmily
		}
		if agent == filter {
			out = append(out, c)
		}
	}
	return out
}

// Preview truncates content for the history panel.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLength]) + previewSuffix
}

// Sender is the display name of the author of c.
func Sender(c *types.Conversation) string {
	if c.IsUser() {
		return "You"
	}
	return "Emily"
}
