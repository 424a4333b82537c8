package mailer

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"

	"github.com/pushkindt/pushkind-hedwig/internal/models"
)

// Build assembles the MIME message for one recipient from an already
// rendered HTML body. It performs no I/O and no template substitution; given
// the same inputs it produces the same bytes.
//
// The Message-ID is always <recipient_id@domain> — the recipient id is the
// correlation token recovered from In-Reply-To when the recipient answers,
// so it must be reconstructible from the id alone.
func Build(hub *models.Hub, email *models.Email, r *models.Recipient, html, domain string) (*Message, error) {
	from, err := sanitizeAddress(&gomail.Address{Address: hub.Sender})
	if err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	to, err := sanitizeAddress(&gomail.Address{Name: r.Name, Address: r.Address})
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	var h gomail.Header
	h.SetAddressList("From", []*gomail.Address{from})
	h.SetAddressList("To", []*gomail.Address{to})
	h.SetSubject(email.Subject)
	h.SetMessageID(fmt.Sprintf("%d@%s", r.ID, domain))
	h.Set("List-Unsubscribe", "<"+hub.UnsubscribeURL+">")
	h.Set("MIME-Version", "1.0")

	// An explicit boundary keeps the output byte-identical across builds
	// of the same inputs.
	params := map[string]string{"boundary": fmt.Sprintf("hedwig-%d-%s", r.ID, domain)}
	if email.HasAttachment() {
		h.SetContentType("multipart/mixed", params)
	} else {
		h.SetContentType("multipart/alternative", params)
	}

	var buf bytes.Buffer
	mw, err := message.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}

	var hh message.Header
	hh.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	hh.Set("Content-Transfer-Encoding", "quoted-printable")
	hw, err := mw.CreatePart(hh)
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := io.WriteString(hw, html+trackingPixel(domain, r.ID)); err != nil {
		return nil, fmt.Errorf("write html part: %w", err)
	}
	if err := hw.Close(); err != nil {
		return nil, fmt.Errorf("close html part: %w", err)
	}

	if email.HasAttachment() {
		var ah message.Header
		ah.SetContentType(email.AttachmentMime, map[string]string{"name": email.AttachmentName})
		ah.SetContentDisposition("attachment", map[string]string{"filename": email.AttachmentName})
		ah.Set("Content-Transfer-Encoding", "base64")
		aw, err := mw.CreatePart(ah)
		if err != nil {
			return nil, fmt.Errorf("create attachment part: %w", err)
		}
		if _, err := aw.Write(email.Attachment); err != nil {
			return nil, fmt.Errorf("write attachment: %w", err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("close attachment part: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}

	return &Message{From: from.Address, To: to.Address, Raw: buf.Bytes()}, nil
}

// trackingPixel is appended after the rendered body so it is the last
// element of the HTML part. Only the domain varies; the scheme, the "mail."
// host prefix and the /track/{id} path are fixed protocol.
func trackingPixel(domain string, recipientID int32) string {
	return fmt.Sprintf(`<img src="https://mail.%s/track/%d" width="1" height="1" alt=""/>`, domain, recipientID)
}

// sanitizeAddress validates an address and rejects CRLF sequences that
// would allow header injection through recipient data.
func sanitizeAddress(a *gomail.Address) (*gomail.Address, error) {
	if _, err := mail.ParseAddress(a.Address); err != nil {
		return nil, fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(a.Address, "\r\n") || strings.ContainsAny(a.Name, "\r\n") {
		return nil, fmt.Errorf("CRLF in address")
	}
	return a, nil
}
