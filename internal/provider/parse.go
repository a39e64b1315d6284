package provider

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	// Register charset decoders for non UTF-8 mail.
	_ "github.com/emersion/go-message/charset"
)

const introLength = 120

// recipientHeaders are searched when matching a catch-all message to a
// tracked address.
var recipientHeaders = []string{"To", "Cc", "Delivered-To", "X-Original-To"}

// parsedMessage is a raw RFC 5322 message reduced to what notifications need.
type parsedMessage struct {
	Message
	Recipients  []string
	Attachments []Attachment
}

// parseRaw decodes raw. fallbackID is used when the message has no
// Message-ID header.
func parseRaw(raw []byte, fallbackID string) (*parsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parsing message: %w", err)
	}
	defer mr.Close()

	pm := &parsedMessage{}

	pm.ID, _ = mr.Header.MessageID()
	if pm.ID == "" {
		pm.ID = fallbackID
	}

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		pm.From = from[0].Address
	} else {
		pm.From = mr.Header.Get("From")
	}

	if subject, err := mr.Header.Subject(); err == nil {
		pm.Subject = subject
	} else {
		pm.Subject = mr.Header.Get("Subject")
	}

	for _, key := range recipientHeaders {
		list, err := mr.Header.AddressList(key)
		if err != nil {
			continue
		}
		for _, a := range list {
			pm.Recipients = append(pm.Recipients, strings.ToLower(a.Address))
		}
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			break
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			if ct == "" || ct == "text/plain" {
				pm.readIntro(p.Body)
			}
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			disp, _, _ := h.ContentDisposition()
			if name == "" && disp != "attachment" {
				// Untyped single-part bodies land here.
				pm.readIntro(p.Body)
				continue
			}
			n, _ := io.Copy(io.Discard, p.Body)
			pm.Attachments = append(pm.Attachments, Attachment{
				MessageID: pm.ID,
				Filename:  name,
				Size:      n,
			})
		}
	}

	pm.HasAttachments = len(pm.Attachments) > 0
	return pm, nil
}

func (pm *parsedMessage) readIntro(body io.Reader) {
	if pm.Intro != "" {
		return
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return
	}
	pm.Intro = intro(string(b))
}

// addressedTo reports whether address is among the message's recipients.
func (pm *parsedMessage) addressedTo(address string) bool {
	address = strings.ToLower(address)
	for _, r := range pm.Recipients {
		if r == address {
			return true
		}
	}
	return false
}

// intro collapses whitespace and cuts body to a short preview.
func intro(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(s) <= introLength {
		return s
	}
	r := []rune(s)
	return string(r[:introLength]) + "…"
}
