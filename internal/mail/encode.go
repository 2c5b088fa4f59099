package mail

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/textproto"
)

// Header fields written by Encode.
const (
	HeaderFrom    = "From"
	HeaderTo      = "To"
	HeaderSubject = "Subject"
	HeaderHash    = "X-Dmail-Hash"
	HeaderBounce  = "X-Dmail-Bounce"
	HeaderID      = "X-Dmail-Id"
)

// Encode serializes m as an RFC 5322 style header block followed by the
// body. Fields are written unfolded so values survive Decode byte for
// byte; they must not contain line breaks (see Message.CheckSingleLine).
func Encode(m *Message) []byte {
	var h textproto.Header
	if m.ID != "" {
		addField(&h, HeaderID, m.ID)
	}
	if m.Bounce {
		addField(&h, HeaderBounce, "yes")
	}
	if m.Hash != "" {
		addField(&h, HeaderHash, m.Hash)
	}
	addField(&h, HeaderSubject, m.Subject)
	addField(&h, HeaderTo, strings.Join(m.Recipients, ", "))
	addField(&h, HeaderFrom, m.Sender)

	var buf bytes.Buffer
	// Writes to a bytes.Buffer do not fail.
	_ = textproto.WriteHeader(&buf, h)
	buf.WriteString(m.Body)
	return buf.Bytes()
}

// Decode parses a message written by Encode. Unknown header fields are ignored.
func Decode(r io.Reader) (*Message, error) {
	br := bufio.NewReader(r)
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("reading message header: %w", err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("reading message body: %w", err)
	}

	m := &Message{
		ID:      fieldValue(&h, HeaderID),
		Sender:  fieldValue(&h, HeaderFrom),
		Subject: fieldValue(&h, HeaderSubject),
		Body:    string(body),
		Hash:    fieldValue(&h, HeaderHash),
		Bounce:  h.Has(HeaderBounce),
	}
	for _, rcpt := range strings.Split(fieldValue(&h, HeaderTo), ",") {
		if rcpt = strings.TrimSpace(rcpt); rcpt != "" {
			m.Recipients = append(m.Recipients, rcpt)
		}
	}
	return m, nil
}

// addField inserts an unfolded "Key: value" field at the top of h.
func addField(h *textproto.Header, key, value string) {
	h.AddRaw([]byte(key + ": " + value + "\r\n"))
}

// fieldValue returns the value of key exactly as Encode wrote it. Folded
// fields written by other producers fall back to the unfolded value.
func fieldValue(h *textproto.Header, key string) string {
	raw, err := h.Raw(key)
	if err != nil || raw == nil {
		return h.Get(key)
	}
	_, v, ok := strings.Cut(string(raw), ":")
	if !ok {
		return h.Get(key)
	}
	v = strings.TrimSuffix(v, "\n")
	v = strings.TrimSuffix(v, "\r")
	if strings.ContainsAny(v, "\r\n") {
		return h.Get(key)
	}
	return strings.TrimPrefix(v, " ")
}
