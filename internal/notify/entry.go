// Package notify delivers human-readable marketplace log entries to external
// channels. Entries are queued and delivered by a background worker so that
// marketplace operations never wait on, or fail because of, delivery.
package notify

import (
	"fmt"
	"time"
)

// Kind of marketplace event an entry reports.
type Kind string

const (
	Listed   Kind = "listed"
	Delisted Kind = "delisted"
)

// Entry is one marketplace log entry.
type Entry struct {
	Kind       Kind      `json:"kind"`
	Category   string    `json:"category"`
	ItemID     string    `json:"item_id"`
	Price      uint64    `json:"price,omitempty"`
	MarketName string    `json:"market_name,omitempty"`
	At         time.Time `json:"at"`
}

// Text is the one-line summary of the entry.
func (e Entry) Text() string {
	switch e.Kind {
	case Listed:
		return fmt.Sprintf("*%s* was put on the market for *%d gp*", e.MarketName, e.Price)
	case Delisted:
		return fmt.Sprintf("`%s` was taken off the market", e.ItemID)
	default:
		return fmt.Sprintf("market event %q for `%s`", e.Kind, e.ItemID)
	}
}

// TextObject is a Slack text composition object.
type TextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Block is a Slack layout block. Only the fields used here are modelled.
type Block struct {
	Type     string       `json:"type"`
	Text     *TextObject  `json:"text,omitempty"`
	Elements []TextObject `json:"elements,omitempty"`
}

// Blocks renders the entry as Slack blocks: the summary and a context line
// naming the item.
func (e Entry) Blocks() []Block {
	return []Block{
		{
			Type: "section",
			Text: &TextObject{Type: "mrkdwn", Text: e.Text()},
		},
		{
			Type: "context",
			Elements: []TextObject{
				{Type: "mrkdwn", Text: fmt.Sprintf("%s `%s`", e.Category, e.ItemID)},
			},
		},
	}
}
