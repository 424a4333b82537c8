package mailer_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushkindt/pushkind-hedwig/internal/mailer"
	"github.com/pushkindt/pushkind-hedwig/internal/models"
)

func testHub() *models.Hub {
	return &models.Hub{
		ID:             1,
		Sender:         "news@example.com",
		UnsubscribeURL: "https://mail.example.com/unsubscribe?hub=1",
	}
}

func testRecipient() *models.Recipient {
	return &models.Recipient{ID: 42, Address: "ada@lovelace.org", Name: "Ada"}
}

func TestBuild_Headers(t *testing.T) {
	email := &models.Email{Subject: "Greetings"}
	msg, err := mailer.Build(testHub(), email, testRecipient(), "<p>Hi</p>", "example.com")
	require.NoError(t, err)

	assert.Equal(t, "news@example.com", msg.From)
	assert.Equal(t, "ada@lovelace.org", msg.To)

	env, err := enmime.ReadEnvelope(bytes.NewReader(msg.Raw))
	require.NoError(t, err)

	assert.Equal(t, "<42@example.com>", env.GetHeader("Message-Id"))
	assert.Equal(t, "<https://mail.example.com/unsubscribe?hub=1>", env.GetHeader("List-Unsubscribe"))
	assert.Equal(t, "Greetings", env.GetHeader("Subject"))
	assert.Contains(t, env.GetHeader("To"), "Ada")
	assert.Contains(t, env.GetHeader("To"), "ada@lovelace.org")
}

func TestBuild_PixelIsLastElement(t *testing.T) {
	email := &models.Email{Subject: "s"}
	msg, err := mailer.Build(testHub(), email, testRecipient(), "<p>Body</p>", "example.com")
	require.NoError(t, err)

	env, err := enmime.ReadEnvelope(bytes.NewReader(msg.Raw))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(env.HTML, "<p>Body</p>"))
	assert.True(t, strings.HasSuffix(env.HTML,
		`<img src="https://mail.example.com/track/42" width="1" height="1" alt=""/>`))
}

func TestBuild_ContentTypeSelection(t *testing.T) {
	plain := &models.Email{Subject: "s"}
	msg, err := mailer.Build(testHub(), plain, testRecipient(), "x", "example.com")
	require.NoError(t, err)
	assert.Contains(t, string(msg.Raw[:bytes.Index(msg.Raw, []byte("\r\n\r\n"))]), "multipart/alternative")

	attached := &models.Email{
		Subject:        "s",
		Attachment:     []byte("%PDF-1.4 fake"),
		AttachmentName: "invoice.pdf",
		AttachmentMime: "application/pdf",
	}
	msg, err = mailer.Build(testHub(), attached, testRecipient(), "x", "example.com")
	require.NoError(t, err)
	assert.Contains(t, string(msg.Raw[:bytes.Index(msg.Raw, []byte("\r\n\r\n"))]), "multipart/mixed")

	env, err := enmime.ReadEnvelope(bytes.NewReader(msg.Raw))
	require.NoError(t, err)
	require.Len(t, env.Attachments, 1)
	assert.Equal(t, "invoice.pdf", env.Attachments[0].FileName)
	assert.Equal(t, []byte("%PDF-1.4 fake"), env.Attachments[0].Content)
}

func TestBuild_Deterministic(t *testing.T) {
	email := &models.Email{Subject: "s"}
	a, err := mailer.Build(testHub(), email, testRecipient(), "<p>x</p>", "example.com")
	require.NoError(t, err)
	b, err := mailer.Build(testHub(), email, testRecipient(), "<p>x</p>", "example.com")
	require.NoError(t, err)

	assert.Equal(t, a.Raw, b.Raw)
}

func TestBuild_RejectsHeaderInjection(t *testing.T) {
	email := &models.Email{Subject: "s"}

	r := testRecipient()
	r.Address = "bad@example.com\r\nBcc: everyone@example.com"
	_, err := mailer.Build(testHub(), email, r, "x", "example.com")
	assert.Error(t, err)

	hub := testHub()
	hub.Sender = "not-an-address"
	_, err = mailer.Build(hub, email, testRecipient(), "x", "example.com")
	assert.Error(t, err)
}
