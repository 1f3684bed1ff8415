// Package mail implements the Gmail-backed mail source for the ingestion
// pipeline.
package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	netmail "net/mail"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"mailbrief/internal/core"
	"mailbrief/internal/logger"
)

const userID = "me"

// GmailSource fetches candidate emails through the Gmail API.
type GmailSource struct {
	service *gmail.Service
}

// NewGmailSource builds a source from an OAuth client credentials file and
// a cached token file.
func NewGmailSource(ctx context.Context, credentialsFile, tokenFile string) (*GmailSource, error) {
	credentials, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read mail credentials: %w", err)
	}

	config, err := google.ConfigFromJSON(credentials, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mail credentials: %w", err)
	}

	tokenJSON, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read mail token: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(tokenJSON, &token); err != nil {
		return nil, fmt.Errorf("failed to parse mail token: %w", err)
	}

	service, err := gmail.NewService(ctx, option.WithHTTPClient(config.Client(ctx, &token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	return &GmailSource{service: service}, nil
}

// FetchBySenders fetches messages from any of the given senders within the
// window.
func (g *GmailSource) FetchBySenders(ctx context.Context, senders []string, maxResults int, window core.FetchWindow) ([]core.CandidateEmail, error) {
	if len(senders) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf("from:(%s) %s", strings.Join(senders, " OR "), windowQuery(window))
	return g.fetchByQuery(ctx, query, maxResults)
}

// FetchByLabel fetches messages carrying a mailbox label within the window.
func (g *GmailSource) FetchByLabel(ctx context.Context, label string, maxResults int, window core.FetchWindow) ([]core.CandidateEmail, error) {
	query := fmt.Sprintf("label:%s %s", label, windowQuery(window))
	return g.fetchByQuery(ctx, query, maxResults)
}

// FetchSingleSender fetches messages from one sender. Used as a fallback
// for senders the batched sender-list query silently omitted.
func (g *GmailSource) FetchSingleSender(ctx context.Context, sender string, maxResults int, window core.FetchWindow) ([]core.CandidateEmail, error) {
	query := fmt.Sprintf("from:%s %s", sender, windowQuery(window))
	return g.fetchByQuery(ctx, query, maxResults)
}

// FetchBySubjectTag fetches messages whose subject contains the given
// marker, from any sender (or senderFilter when non-empty), within the
// last hoursBack hours.
func (g *GmailSource) FetchBySubjectTag(ctx context.Context, senderFilter, tag string, maxResults, hoursBack int) ([]core.CandidateEmail, error) {
	after := time.Now().Add(-time.Duration(hoursBack) * time.Hour)
	query := fmt.Sprintf("subject:%q %s", tag, windowQuery(core.FetchWindow{After: after}))
	if senderFilter != "" {
		query = "from:" + senderFilter + " " + query
	}
	return g.fetchByQuery(ctx, query, maxResults)
}

// ScanUniqueSenders aggregates distinct senders seen since after, bounded
// to messageCap messages, keeping only senders with at least minCount
// messages. Results are sorted by message count descending.
func (g *GmailSource) ScanUniqueSenders(ctx context.Context, after time.Time, minCount, messageCap int) ([]core.DiscoveredSender, error) {
	ids, err := g.listMessageIDs(ctx, windowQuery(core.FetchWindow{After: after}), messageCap)
	if err != nil {
		return nil, err
	}

	byEmail := make(map[string]*core.DiscoveredSender)
	for _, id := range ids {
		msg, err := g.service.Users.Messages.Get(userID, id).
			Format("metadata").
			MetadataHeaders("From", "Subject", "Date").
			Context(ctx).
			Do()
		if err != nil {
			logger.Warn("discovery scan: failed to fetch message metadata", "id", id, "error", err.Error())
			continue
		}

		from, subject, date := metadataHeaders(msg)
		name, email := splitAddress(from)
		if email == "" {
			continue
		}

		entry, ok := byEmail[email]
		if !ok {
			entry = &core.DiscoveredSender{Email: email, Name: name}
			byEmail[email] = entry
		}
		entry.Count++
		if len(entry.Subjects) < 3 && subject != "" {
			entry.Subjects = append(entry.Subjects, subject)
		}
		if date.After(entry.LatestDate) {
			entry.LatestDate = date
		}
	}

	var senders []core.DiscoveredSender
	for _, entry := range byEmail {
		if entry.Count >= minCount {
			senders = append(senders, *entry)
		}
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i].Count > senders[j].Count })
	return senders, nil
}

// fetchByQuery lists matching message ids and fetches each full message.
func (g *GmailSource) fetchByQuery(ctx context.Context, query string, maxResults int) ([]core.CandidateEmail, error) {
	ids, err := g.listMessageIDs(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}

	emails := make([]core.CandidateEmail, 0, len(ids))
	for _, id := range ids {
		msg, err := g.service.Users.Messages.Get(userID, id).Format("full").Context(ctx).Do()
		if err != nil {
			logger.Warn("failed to fetch message, skipping", "id", id, "error", err.Error())
			continue
		}
		emails = append(emails, parseMessage(msg))
	}
	return emails, nil
}

// listMessageIDs pages through the list endpoint up to maxResults ids.
// The list endpoint is eventually consistent and page-limited, which is
// why callers merge several strategies and rely on dedup downstream.
func (g *GmailSource) listMessageIDs(ctx context.Context, query string, maxResults int) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		call := g.service.Users.Messages.List(userID).Q(query).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		remaining := maxResults - len(ids)
		if remaining <= 0 {
			break
		}
		if remaining > 100 {
			remaining = 100
		}
		call = call.MaxResults(int64(remaining))

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list messages (%s): %w", query, err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" || len(ids) >= maxResults {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

// windowQuery renders a fetch window as Gmail search operators. Epoch
// seconds give second precision where after:YYYY/MM/DD would not.
func windowQuery(window core.FetchWindow) string {
	q := fmt.Sprintf("after:%d", window.After.Unix())
	if window.Before != nil {
		q += fmt.Sprintf(" before:%d", window.Before.Unix())
	}
	return q
}

// parseMessage converts a Gmail API message into a CandidateEmail.
func parseMessage(msg *gmail.Message) core.CandidateEmail {
	email := core.CandidateEmail{ID: msg.Id}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch strings.ToLower(header.Name) {
			case "from":
				email.From = header.Value
			case "subject":
				email.Subject = header.Value
			case "date":
				if t, err := parseDate(header.Value); err == nil {
					email.Date = t
				}
			}
		}
		email.TextBody, email.HTMLBody = extractBodies(msg.Payload)
	}

	if email.Date.IsZero() {
		email.Date = time.UnixMilli(msg.InternalDate)
	}

	return email
}

// extractBodies walks the (possibly nested) multipart payload collecting
// the first text/plain and text/html parts.
func extractBodies(payload *gmail.MessagePart) (text, html string) {
	if payload.Body != nil && payload.Body.Data != "" {
		decoded := decodeBody(payload.Body.Data)
		switch {
		case strings.HasPrefix(payload.MimeType, "text/html"):
			return "", decoded
		default:
			return decoded, ""
		}
	}

	for _, part := range payload.Parts {
		switch {
		case part.MimeType == "text/plain" && text == "":
			if part.Body != nil {
				text = decodeBody(part.Body.Data)
			}
		case part.MimeType == "text/html" && html == "":
			if part.Body != nil {
				html = decodeBody(part.Body.Data)
			}
		case len(part.Parts) > 0:
			t, h := extractBodies(part)
			if text == "" {
				text = t
			}
			if html == "" {
				html = h
			}
		}
	}
	return text, html
}

// bodyEncodings are tried in order. Gmail emits unpadded base64url, but
// padded and standard-alphabet payloads show up from other providers.
var bodyEncodings = []*base64.Encoding{
	base64.RawURLEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.StdEncoding,
}

func decodeBody(data string) string {
	for _, enc := range bodyEncodings {
		if decoded, err := enc.DecodeString(data); err == nil {
			return string(decoded)
		}
	}
	return ""
}

func metadataHeaders(msg *gmail.Message) (from, subject string, date time.Time) {
	if msg.Payload == nil {
		return "", "", time.UnixMilli(msg.InternalDate)
	}
	for _, header := range msg.Payload.Headers {
		switch strings.ToLower(header.Name) {
		case "from":
			from = header.Value
		case "subject":
			subject = header.Value
		case "date":
			if t, err := parseDate(header.Value); err == nil {
				date = t
			}
		}
	}
	if date.IsZero() {
		date = time.UnixMilli(msg.InternalDate)
	}
	return from, subject, date
}

// splitAddress separates "Name <addr>" into its parts, lowercasing the
// address.
func splitAddress(from string) (name, email string) {
	addr, err := netmail.ParseAddress(from)
	if err != nil {
		trimmed := strings.TrimSpace(from)
		if strings.Contains(trimmed, "@") {
			return "", strings.ToLower(trimmed)
		}
		return "", ""
	}
	return addr.Name, strings.ToLower(addr.Address)
}

// parseDate tries the date formats seen in the wild.
func parseDate(s string) (time.Time, error) {
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
		time.RFC822Z,
		time.RFC822,
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}
