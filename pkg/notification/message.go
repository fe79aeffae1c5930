package notification

import (
	"regexp"

	"github.com/slack-go/slack"
)

// AccentColor is the attachment side bar color.
const AccentColor = "#f2c744"

const (
	notebookButtonText = "Go to notebook"
	notebookPointer    = "👉"
	codeFence          = "```"
)

var leadingDashes = regexp.MustCompile(`^-+`)

// StripLeadingSeparator removes the run of dashes a rendered traceback starts
// with. Dashes anywhere else are kept.
func StripLeadingSeparator(text string) string {
	return leadingDashes.ReplaceAllString(text, "")
}

// Message is the body posted to the incoming webhook. It carries nothing but
// the attachments.
type Message struct {
	Attachments []slack.Attachment `json:"attachments"`
}

// BuildMessage builds the webhook payload for an already rendered traceback.
// The result depends only on its arguments.
func BuildMessage(tracebackText string, cfg Config) *Message {
	blocks := []slack.Block{
		&slack.HeaderBlock{
			Type: slack.MBTHeader,
			Text: &slack.TextBlockObject{Type: slack.PlainTextType, Text: cfg.Title},
		},
		&slack.SectionBlock{
			Type: slack.MBTSection,
			Text: &slack.TextBlockObject{
				Type: slack.MarkdownType,
				Text: codeFence + StripLeadingSeparator(tracebackText) + codeFence,
			},
		},
	}

	if cfg.NotebookLink != "" {
		button := &slack.ButtonBlockElement{
			Type: slack.METButton,
			Text: &slack.TextBlockObject{Type: slack.PlainTextType, Text: notebookButtonText},
			URL:  cfg.NotebookLink,
		}
		blocks = append(blocks, &slack.SectionBlock{
			Type:      slack.MBTSection,
			Text:      &slack.TextBlockObject{Type: slack.MarkdownType, Text: notebookPointer},
			Accessory: slack.NewAccessory(button),
		})
	}

	return &Message{
		Attachments: []slack.Attachment{
			{
				Color:  AccentColor,
				Blocks: slack.Blocks{BlockSet: blocks},
			},
		},
	}
}
