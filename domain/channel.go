package domain

import (
	"sort"
	"strings"
)

const channelSeparator = ":"

// DirectChannelID derives the channel shared by two identities.
// Both peers compute the same id regardless of argument order.
func DirectChannelID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, channelSeparator)
}
