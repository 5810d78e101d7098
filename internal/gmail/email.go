package gmail

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"
)

// maxPartDepth caps the MIME part recursion. Real messages rarely nest more
// than three or four levels; anything deeper is treated as having no body.
const maxPartDepth = 10

// parseMessage converts a full Gmail message resource into an EmailMessage.
func parseMessage(msg *gmail.Message) EmailMessage {
	out := EmailMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
	}

	if msg.Payload == nil {
		return out
	}

	out.Headers = make([]Header, 0, len(msg.Payload.Headers))
	for _, h := range msg.Payload.Headers {
		if h == nil {
			continue
		}
		out.Headers = append(out.Headers, Header{Name: h.Name, Value: h.Value})
	}

	out.Subject = headerValue(msg.Payload.Headers, "Subject")
	out.From = headerValue(msg.Payload.Headers, "From")
	out.To = headerValue(msg.Payload.Headers, "To")
	out.Date = parseDate(headerValue(msg.Payload.Headers, "Date"))
	out.Body = parseBody(msg.Payload)

	return out
}

// headerValue looks up a header by name, case-insensitively, over the
// ordered header sequence. Absent headers yield an empty string.
func headerValue(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if h != nil && strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// parseDate parses an RFC 5322 Date header. A missing or malformed header
// yields the zero time; display code treats that as "no date".
func parseDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := mail.ParseDate(value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseBody extracts the displayable text body from a message payload.
//
// Simple messages carry the body directly on the payload. Multipart
// messages are searched depth-first: at each level a text/plain part is
// preferred, then text/html, then any part that itself has sub-parts is
// descended into, returning the first non-empty result.
func parseBody(payload *gmail.MessagePart) string {
	return parseBodyDepth(payload, 0)
}

func parseBodyDepth(payload *gmail.MessagePart, depth int) string {
	if payload == nil || depth > maxPartDepth {
		return ""
	}

	if payload.Body != nil && payload.Body.Data != "" {
		return decodeBase64URL(payload.Body.Data)
	}

	if len(payload.Parts) == 0 {
		return ""
	}

	for _, mimeType := range []string{"text/plain", "text/html"} {
		for _, part := range payload.Parts {
			if part == nil || part.MimeType != mimeType {
				continue
			}
			if part.Body != nil && part.Body.Data != "" {
				return decodeBase64URL(part.Body.Data)
			}
		}
	}

	for _, part := range payload.Parts {
		if part == nil || len(part.Parts) == 0 {
			continue
		}
		if body := parseBodyDepth(part, depth+1); body != "" {
			return body
		}
	}

	return ""
}

// decodeBase64URL decodes base64url data as used by the Gmail API. The
// URL-safe alphabet is translated to the standard one before decoding, and
// malformed input yields an empty string rather than an error; the caller
// decides whether an empty body is fatal.
func decodeBase64URL(data string) string {
	s := strings.NewReplacer("-", "+", "_", "/").Replace(data)
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ""
	}
	return string(decoded)
}
