package notify

import (
	"strings"
	"time"

	"schwab-discord-notifier/internal/models"
	"schwab-discord-notifier/internal/report"

	"github.com/shopspring/decimal"
)

// Embed colours.
const (
	ColorTeal   = 0x1ABC9C
	ColorBlue   = 0x3498DB
	ColorPurple = 0x9B59B6
	ColorSlate  = 0x5865F2
	ColorCyan   = 0x00CED1
	ColorIndigo = 0x6366F1
	ColorSteel  = 0x607D8B
)

// WebhookPayload is the JSON body accepted by a Discord webhook.
type WebhookPayload struct {
	Content         string           `json:"content,omitempty"`
	Username        string           `json:"username,omitempty"`
	Embeds          []Embed          `json:"embeds"`
	AllowedMentions *AllowedMentions `json:"allowed_mentions,omitempty"`
}

// AllowedMentions restricts which mentions in Content ping.
type AllowedMentions struct {
	Roles []string `json:"roles"`
}

// Embed is a Discord rich embed.
type Embed struct {
	Title     string       `json:"title"`
	Color     int          `json:"color"`
	Fields    []EmbedField `json:"fields"`
	Footer    *EmbedFooter `json:"footer,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
}

// EmbedField is one name/value cell of an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter is the small text under an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// BuildEmbed renders a notification as a Discord embed.
func BuildEmbed(n Notification, footer string) Embed {
	rec := n.Record
	embed := Embed{
		Title:     Title(rec),
		Color:     Color(rec),
		Timestamp: rec.FilledAt.UTC().Format(time.RFC3339),
	}
	if footer != "" {
		embed.Footer = &EmbedFooter{Text: footer}
	}

	add := func(name, value string) {
		embed.Fields = append(embed.Fields, EmbedField{Name: name, Value: value, Inline: true})
	}

	if rec.Kind == "OPTION" {
		add("Strike", StrikeDisplay(rec.Strike, rec.Right))
		if rec.Expiration != nil {
			add("Expiration", rec.Expiration.Format("01/02/2006"))
		}
	}

	if rec.Side == "OPEN" {
		add("Entry", Money(rec.Price))
		add("Filled", rec.Quantity.String())
		if n.Owned != nil {
			add("Owned", n.Owned.String())
		}
		return embed
	}

	if rec.HasMatches() {
		add("Entry", Money(rec.EntryPrice))
	}
	add("Exit", Money(rec.Price))
	add("Closed", rec.Quantity.String())
	if n.Owned != nil {
		add("Remaining", n.Owned.String())
	}
	if rec.HasMatches() {
		add("Gain", Percent(rec.AvgGainPct))
	} else {
		add("Gain", "N/A (no matching open lot)")
	}
	if rec.UnallocatedQuantity.IsPositive() && rec.HasMatches() {
		add("Unmatched", rec.UnallocatedQuantity.String())
	}
	return embed
}

// Title is "<INSTRUCTION WORDS>: <UNDERLYING>", e.g. "BUY TO OPEN: SLV".
func Title(rec models.TradeRecord) string {
	instruction := rec.Instruction
	if instruction == "" {
		instruction = rec.Side
	}
	return strings.ReplaceAll(instruction, "_", " ") + ": " + rec.Underlying
}

// Color picks the embed colour from the trade side, direction and outcome.
func Color(rec models.TradeRecord) int {
	switch {
	case rec.Side == "OPEN" && rec.Direction == "SHORT":
		return ColorIndigo
	case rec.Side == "OPEN" && rec.Kind == "EQUITY":
		return ColorCyan
	case rec.Side == "OPEN":
		return ColorTeal
	case !rec.HasMatches():
		return ColorSteel
	}
	switch report.Classify(rec.AvgGainPct) {
	case report.Loss:
		return ColorPurple
	case report.BreakEven:
		return ColorSlate
	}
	return ColorBlue
}

// StrikeDisplay renders a strike and right as "90c" or "267.5p".
func StrikeDisplay(strike decimal.Decimal, right string) string {
	letter := ""
	if right != "" {
		letter = strings.ToLower(right[:1])
	}
	return strike.String() + letter
}

// Money renders a price as "$2.00".
func Money(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Abs().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

// Percent renders a gain as "+55.00%" or "-12.50%".
func Percent(d decimal.Decimal) string {
	if d.IsNegative() {
		return d.StringFixed(2) + "%"
	}
	return "+" + d.StringFixed(2) + "%"
}
