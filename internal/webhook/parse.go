package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound is one message extracted from a webhook delivery.
type Inbound struct {
	ProviderMessageID string
	Sender            string
	SenderName        string
	Body              string
	Timestamp         string
	Type              string
}

// Skipped describes a message in the envelope that could not be turned into
// an Inbound.
type Skipped struct {
	ProviderMessageID string
	Type              string
	Reason            string
}

type Result struct {
	Object   string
	Messages []Inbound
	Skipped  []Skipped
	Statuses []Status
}

// Parse decodes a webhook body and extracts every inbound message. A body
// that is not JSON returns an error; an envelope for another object type
// returns an empty Result.
func Parse(raw []byte) (Result, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Result{}, fmt.Errorf("unmarshal webhook payload: %w", err)
	}

	res := Result{Object: p.Object}
	if p.Object != ObjectWhatsApp {
		return res, nil
	}

	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}

			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, msg := range change.Value.Messages {
				in, reason := extract(msg)
				if reason != "" {
					res.Skipped = append(res.Skipped, Skipped{
						ProviderMessageID: msg.ID,
						Type:              msg.Type,
						Reason:            reason,
					})
					continue
				}
				in.SenderName = names[msg.From]
				res.Messages = append(res.Messages, in)
			}
			res.Statuses = append(res.Statuses, change.Value.Statuses...)
		}
	}
	return res, nil
}

func extract(msg Message) (Inbound, string) {
	if strings.TrimSpace(msg.ID) == "" {
		return Inbound{}, "missing message id"
	}
	if strings.TrimSpace(msg.From) == "" {
		return Inbound{}, "missing sender"
	}

	body, ok := ExtractBody(msg)
	if !ok {
		return Inbound{}, fmt.Sprintf("no body for message type %q", msg.Type)
	}

	return Inbound{
		ProviderMessageID: msg.ID,
		Sender:            msg.From,
		Body:              body,
		Timestamp:         msg.Timestamp,
		Type:              msg.Type,
	}, ""
}

// ExtractBody returns a text representation of msg. Non-text types are
// rendered as a tagged summary, e.g. "[image] sunset (image/jpeg)".
func ExtractBody(msg Message) (string, bool) {
	switch msg.Type {
	case "text":
		if msg.Text == nil || msg.Text.Body == "" {
			return "", false
		}
		return msg.Text.Body, true
	case "image":
		return formatMedia("image", msg.Image, false)
	case "document":
		return formatMedia("document", msg.Document, true)
	case "audio":
		return formatMedia("audio", msg.Audio, false)
	case "video":
		return formatMedia("video", msg.Video, false)
	case "sticker":
		return formatMedia("sticker", msg.Sticker, false)
	case "location":
		if msg.Location == nil {
			return "", false
		}
		return formatLocation(msg.Location), true
	default:
		return "", false
	}
}

func formatMedia(kind string, m *Media, preferFilename bool) (string, bool) {
	if m == nil {
		return "", false
	}
	parts := []string{"[" + kind + "]"}
	label := m.Caption
	if preferFilename && m.Filename != "" {
		label = m.Filename
	}
	if label != "" {
		parts = append(parts, label)
	}
	if m.MimeType != "" {
		parts = append(parts, "("+m.MimeType+")")
	}
	return strings.Join(parts, " "), true
}

func formatLocation(loc *Location) string {
	parts := []string{"[location]"}
	if loc.Name != "" {
		parts = append(parts, loc.Name)
	}
	if loc.Address != "" {
		parts = append(parts, loc.Address)
	}
	parts = append(parts, fmt.Sprintf("(%.6f, %.6f)", loc.Latitude, loc.Longitude))
	return strings.Join(parts, " ")
}
