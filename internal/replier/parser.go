// Package replier monitors hub inboxes over IMAP, classifies inbound mail
// and turns it into recipient state transitions and bus events.
package replier

import (
	"bytes"
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/jhillyerd/enmime"
)

// Reply is an inbound message correlated to a recipient via In-Reply-To.
// Text may be empty; an empty reply still proves the message was received.
type Reply struct {
	RecipientID int32
	Address     string
	Text        string
	Subject     *string
}

// Unsubscribe is an inbound message classified as an unsubscribe request
// or a bounce. Reason carries the raw subject line.
type Unsubscribe struct {
	Address string
	Reason  *string
}

// Classification is the parser verdict. At most one field is non-nil;
// both nil means the message is ignored.
type Classification struct {
	Reply       *Reply
	Unsubscribe *Unsubscribe
}

var (
	// messageIDRe matches one <digits@domain> token inside In-Reply-To.
	messageIDRe = regexp.MustCompile(`<(\d+)@([^>]+)>`)

	// quoteDelimiterRe matches the first line of a quoted original:
	// "On ... wrote:" and the Outlook-style separator.
	quoteDelimiterRe = regexp.MustCompile(`(?i)^(on\s.+wrote:|-{2,}\s*original message\s*-{2,}.*)$`)
)

// Parse classifies one raw RFC-822 message fetched from a hub inbox.
// A returned error means the message could not be parsed and is ignored;
// it never aborts the enclosing fetch cycle.
func Parse(raw []byte, domain string) (Classification, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return Classification{}, fmt.Errorf("read envelope: %w", err)
	}

	sender, err := senderAddress(env)
	if err != nil {
		return Classification{}, fmt.Errorf("parse From: %w", err)
	}

	subject := headerPtr(env, "Subject")

	// Bounces often quote the original Message-ID in In-Reply-To, so the
	// unsubscribe/bounce check runs before reply correlation.
	if isUnsubscribe(env, sender, domain) {
		return Classification{Unsubscribe: &Unsubscribe{Address: sender, Reason: subject}}, nil
	}

	if id, ok := correlatedRecipient(env, domain); ok {
		return Classification{Reply: &Reply{
			RecipientID: id,
			Address:     sender,
			Text:        replyText(env),
			Subject:     subject,
		}}, nil
	}

	return Classification{}, nil
}

// correlatedRecipient extracts the recipient id from In-Reply-To: the first
// <INT@DOMAIN> token whose domain matches and whose integer fits int32.
func correlatedRecipient(env *enmime.Envelope, domain string) (int32, bool) {
	for _, value := range env.GetHeaderValues("In-Reply-To") {
		for _, m := range messageIDRe.FindAllStringSubmatch(value, -1) {
			if m[2] != domain {
				continue
			}
			id, err := strconv.ParseInt(m[1], 10, 32)
			if err != nil {
				continue
			}
			return int32(id), true
		}
	}
	return 0, false
}

func senderAddress(env *enmime.Envelope) (string, error) {
	from := env.GetHeader("From")
	if from == "" {
		return "", fmt.Errorf("missing From header")
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}

// isUnsubscribe applies the bounce/unsubscribe heuristics: daemon senders,
// well-known bounce subjects, an explicit "unsubscribe" subject, or an
// inbound List-Unsubscribe header pointing back at this service.
func isUnsubscribe(env *enmime.Envelope, sender, domain string) bool {
	lowerSender := strings.ToLower(sender)
	if strings.HasPrefix(lowerSender, "mailer-daemon@") || strings.Contains(lowerSender, "postmaster") {
		return true
	}

	lowerSubject := strings.ToLower(env.GetHeader("Subject"))
	for _, marker := range []string{
		"unsubscribe",
		"undelivered mail returned",
		"delivery status notification",
	} {
		if strings.Contains(lowerSubject, marker) {
			return true
		}
	}

	if lu := env.GetHeader("List-Unsubscribe"); lu != "" && strings.Contains(lu, domain) {
		return true
	}

	return false
}

// replyText extracts the human-written part of the reply. enmime prefers
// the text/plain body and falls back to a tag-stripped rendering of the
// HTML body. Quoted original content is removed heuristically: lines
// starting with ">" are dropped and everything after an "On … wrote:"-style
// delimiter is cut.
func replyText(env *enmime.Envelope) string {
	var kept []string
	for _, line := range strings.Split(env.Text, "\n") {
		trimmed := strings.TrimSpace(line)
		if quoteDelimiterRe.MatchString(trimmed) {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func headerPtr(env *enmime.Envelope, name string) *string {
	if value := env.GetHeader(name); value != "" {
		return &value
	}
	return nil
}
