package mail_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/registration-service/internal/domain"
	"github.com/spec-kit/registration-service/internal/mail"
)

func TestRenderUpdateRequestCarriesLink(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{
		"full_name":  "Ada Lovelace",
		"notes":      "receipt is blurry",
		"update_url": "https://portal.example.com/update?token=abc",
	})
	msg, err := mail.NewRenderer("noreply@example.com").Render(domain.OutboxEntry{
		ID:        "entry-1",
		Template:  domain.UpdateTemplate(domain.DimensionPayment),
		Recipient: " ada@example.com ",
		Payload:   payload,
	})
	require.NoError(t, err)

	assert.Equal(t, "noreply@example.com", msg.From)
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Contains(t, msg.Subject, "payment")
	assert.Contains(t, msg.Text, "Ada Lovelace")
	assert.Contains(t, msg.Text, "receipt is blurry")
	assert.Contains(t, msg.Text, "https://portal.example.com/update?token=abc")
	assert.Equal(t, "entry-1", msg.Tags["outbox_id"])
}

func TestRenderApprovalWithoutBadge(t *testing.T) {
	msg, err := mail.NewRenderer("noreply@example.com").Render(domain.OutboxEntry{
		Template:  domain.TemplateApproval,
		Recipient: "ada@example.com",
	})
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "approved")
	assert.NotContains(t, msg.Text, "badge")
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := mail.NewRenderer("").Render(domain.OutboxEntry{Template: "newsletter"})
	require.Error(t, err)
}

func TestRenderBadPayload(t *testing.T) {
	_, err := mail.NewRenderer("").Render(domain.OutboxEntry{
		Template: domain.TemplateApproval,
		Payload:  json.RawMessage(`not-json`),
	})
	require.Error(t, err)
}
