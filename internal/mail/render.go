package mail

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/spec-kit/registration-service/internal/domain"
)

type messageTemplate struct {
	subject string
	body    *template.Template
}

var templates = map[string]messageTemplate{
	domain.TemplateRegistrationCreated: {
		subject: "We received your registration",
		body: template.Must(template.New("created").Parse(
			"Hi {{.full_name}},\n\nThanks for registering. Our team will review your payment, profile and travel details and get back to you.\n")),
	},
	domain.UpdateTemplate(domain.DimensionPayment): updateTemplate("payment"),
	domain.UpdateTemplate(domain.DimensionProfile): updateTemplate("profile"),
	domain.UpdateTemplate(domain.DimensionTCC):     updateTemplate("travel and conference"),
	domain.TemplateApproval: {
		subject: "Your registration is approved",
		body: template.Must(template.New("approval").Parse(
			"Hi {{.full_name}},\n\nYour registration has been approved.{{if .badge_url}}\n\nYour badge: {{.badge_url}}{{end}}\n")),
	},
	domain.TemplateRejection: {
		subject: "Your registration was not accepted",
		body: template.Must(template.New("rejection").Parse(
			"Hi {{.full_name}},\n\nUnfortunately we could not accept your registration.{{if .reason}}\n\nReason: {{.reason}}{{end}}\n")),
	},
}

func updateTemplate(section string) messageTemplate {
	return messageTemplate{
		subject: "Action needed: update your " + section + " details",
		body: template.Must(template.New("update").Parse(
			"Hi {{.full_name}},\n\nWe need you to update your " + section + " details.{{if .notes}}\n\nReviewer notes: {{.notes}}{{end}}\n\nUse this link to submit the update: {{.update_url}}\n")),
	}
}

// Renderer builds messages from outbox entries.
type Renderer struct {
	from string
}

// NewRenderer returns a renderer that sends from the given address.
func NewRenderer(from string) *Renderer {
	return &Renderer{from: from}
}

// Render produces the message for entry. Unknown templates are an error so the
// entry is recorded as failed rather than sent blank.
func (r *Renderer) Render(entry domain.OutboxEntry) (Message, error) {
	tmpl, ok := templates[entry.Template]
	if !ok {
		return Message{}, fmt.Errorf("unknown template %q", entry.Template)
	}

	data := map[string]any{}
	if len(entry.Payload) > 0 {
		if err := json.Unmarshal(entry.Payload, &data); err != nil {
			return Message{}, fmt.Errorf("decode payload for %s: %w", entry.ID, err)
		}
	}
	if _, ok := data["full_name"]; !ok {
		data["full_name"] = "there"
	}

	var body bytes.Buffer
	if err := tmpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", entry.Template, err)
	}

	return Message{
		From:     r.from,
		To:       strings.TrimSpace(entry.Recipient),
		Subject:  tmpl.subject,
		Text:     body.String(),
		Template: entry.Template,
		Tags:     map[string]string{"outbox_id": entry.ID},
	}, nil
}
