package usecases

import (
	"fmt"
	"strings"

	"deliverybot/internal/entities"

	"github.com/slack-go/slack"
)

// Interaction identifiers shared with the Slack app manifest
const (
	ActionApproveDelivery  = "approve_delivery"
	ActionDenyDelivery     = "deny_delivery"
	CallbackApproveView    = "approve_delivery_view"
	BlockNotes             = "notes"
	ActionNotesInput       = "notes_input"
	BlockLocation          = "location"
	ActionLocationInput    = "location_input"
	BlockChannel           = "channel"
	ActionChannelSelect    = "channel_select"
	summaryFallbackNoValue = "None"
)

func markdownSection(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
}

func plainText(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, true, false)
}

// ConfirmationPrompt builds the Correct / Not correct prompt for a delivery.
// Both buttons carry the delivery id as their value.
func ConfirmationPrompt(id entities.DeliveryID) (string, []slack.Block) {
	text := fmt.Sprintf("Confirm *%s* is correct?", id)

	approve := slack.NewButtonBlockElement(ActionApproveDelivery, id.String(), plainText("Correct")).
		WithStyle(slack.StylePrimary)
	deny := slack.NewButtonBlockElement(ActionDenyDelivery, id.String(), plainText("Not correct")).
		WithStyle(slack.StyleDanger)

	return text, []slack.Block{
		markdownSection(text),
		slack.NewActionBlock("", approve, deny),
	}
}

// ProcessedNotice replaces an approved prompt.
func ProcessedNotice(id entities.DeliveryID) (string, []slack.Block) {
	text := fmt.Sprintf("Processed delivery *%s*...", id)
	return text, []slack.Block{markdownSection(text)}
}

// IncorrectNotice replaces a denied prompt.
func IncorrectNotice(id entities.DeliveryID) (string, []slack.Block) {
	text := fmt.Sprintf("Delivery *%s* was incorrect ❌", id)
	return text, []slack.Block{markdownSection(text)}
}

// ApprovalModal builds the approval form. The delivery id travels as private
// metadata and the channel picker defaults to sourceChannel.
func ApprovalModal(id entities.DeliveryID, sourceChannel string) slack.ModalViewRequest {
	notesInput := slack.NewPlainTextInputBlockElement(plainText("Add notes..."), ActionNotesInput)
	notesInput.Multiline = true
	notes := slack.NewInputBlock(BlockNotes, plainText("Additional delivery notes"), nil, notesInput)
	notes.Optional = true

	locationInput := slack.NewPlainTextInputBlockElement(plainText("Enter the location details..."), ActionLocationInput)
	location := slack.NewInputBlock(BlockLocation, plainText("Delivery Location"), nil, locationInput)
	location.Optional = true

	channelSelect := slack.NewOptionsSelectBlockElement(
		slack.OptTypeChannels,
		plainText("Select channel for notifications"),
		ActionChannelSelect,
	)
	channelSelect.InitialChannel = sourceChannel
	channel := slack.NewInputBlock(BlockChannel, plainText("Notification Channel"), nil, channelSelect)

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      CallbackApproveView,
		Title:           plainText("Approve Delivery"),
		Submit:          plainText("Approve"),
		PrivateMetadata: id.String(),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			markdownSection(fmt.Sprintf("Approving delivery *%s*", id)),
			notes,
			location,
			channel,
		}},
	}
}

// ApprovalSummary builds the three-section summary posted after approval.
func ApprovalSummary(id entities.DeliveryID, notes, location string) (string, []slack.Block) {
	banner := fmt.Sprintf("✅ Delivery *%s* approved:", id)
	return banner, []slack.Block{
		markdownSection(banner),
		markdownSection("*Delivery Notes:*\n" + orNone(notes)),
		markdownSection("*Delivery Location:*\n" + orNone(location)),
	}
}

func orNone(value string) string {
	if strings.TrimSpace(value) == "" {
		return summaryFallbackNoValue
	}
	return value
}
