package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sonichunter/internal/ingest"
)

// MaxAttachmentBytes is the largest attachment the relay copies, matching
// Discord's default upload ceiling.
const MaxAttachmentBytes = 25 << 20

// downloadTimeout bounds a single attachment download.
const downloadTimeout = 2 * time.Minute

// ErrInvalidRef is returned by [ParseRef] for malformed references.
var ErrInvalidRef = errors.New("invalid relay reference")

// Ref identifies an attachment on a relayed message.
type Ref struct {
	ChannelID    string
	MessageID    string
	AttachmentID string
}

// String formats r as "<channel>/<message>/<attachment>".
func (r Ref) String() string {
	return r.ChannelID + "/" + r.MessageID + "/" + r.AttachmentID
}

// ParseRef splits a resolved reference produced by [Relay.Resolve].
func ParseRef(ref string) (Ref, error) {
	parts := strings.Split(ref, "/")
	if len(parts) != 3 {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	for _, p := range parts {
		if p == "" {
			return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
		}
	}
	return Ref{ChannelID: parts[0], MessageID: parts[1], AttachmentID: parts[2]}, nil
}

// Relay re-uploads observed audio into a fixed relay channel and uses the
// relayed copy's IDs as the stable reference. Relayed copies are permanent.
// It implements [ingest.Resolver].
type Relay struct {
	sess      Session
	channelID string
	client    *http.Client
	backoff   backoff
}

var _ ingest.Resolver = (*Relay)(nil)

// RelayOption configures a [Relay].
type RelayOption func(*Relay)

// WithHTTPClient downloads attachments with c.
func WithHTTPClient(c *http.Client) RelayOption {
	return func(r *Relay) { r.client = c }
}

// NewRelay creates a Relay posting into channelID.
func NewRelay(sess Session, channelID string, opts ...RelayOption) *Relay {
	r := &Relay{
		sess:      sess,
		channelID: channelID,
		client:    &http.Client{Timeout: downloadTimeout},
		backoff:   defaultBackoff,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve downloads msg's audio, posts it to the relay channel with a
// provenance caption and returns the reference of the relayed attachment.
// Errors wrap [ingest.ErrResolution].
func (r *Relay) Resolve(ctx context.Context, msg ingest.Message) (string, error) {
	a := msg.Audio
	if a == nil {
		return "", fmt.Errorf("%w: message %s has no audio", ingest.ErrResolution, msg.MessageID)
	}
	if a.Size > MaxAttachmentBytes {
		return "", fmt.Errorf("%w: %s is %d bytes, limit %d", ingest.ErrResolution, a.Filename, a.Size, MaxAttachmentBytes)
	}

	body, err := r.download(ctx, a.URL)
	if err != nil {
		return "", fmt.Errorf("%w: download %s: %w", ingest.ErrResolution, a.Filename, err)
	}

	var sent *discordgo.Message
	err = r.backoff.retry(ctx, "relay upload", func() error {
		var err error
		sent, err = r.sess.ChannelMessageSendComplex(r.channelID, &discordgo.MessageSend{
			Content: caption(msg),
			Files: []*discordgo.File{{
				Name:        a.Filename,
				ContentType: a.ContentType,
				Reader:      bytes.NewReader(body),
			}},
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: upload to relay channel: %w", ingest.ErrResolution, err)
	}
	if sent == nil || len(sent.Attachments) == 0 {
		return "", fmt.Errorf("%w: relayed message carries no attachment", ingest.ErrResolution)
	}

	return Ref{
		ChannelID:    r.channelID,
		MessageID:    sent.ID,
		AttachmentID: sent.Attachments[0].ID,
	}.String(), nil
}

// Fetch re-reads the relayed message behind ref and returns a fresh URL for
// its attachment. Attachment URLs are signed and expire; the reference does
// not.
func (r *Relay) Fetch(ctx context.Context, ref string) (string, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return "", err
	}

	var m *discordgo.Message
	err = r.backoff.retry(ctx, "fetch relay message", func() error {
		var err error
		m, err = r.sess.ChannelMessage(parsed.ChannelID, parsed.MessageID, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("discord: fetch %s: %w", ref, err)
	}
	for _, a := range m.Attachments {
		if a.ID == parsed.AttachmentID {
			return a.URL, nil
		}
	}
	return "", fmt.Errorf("discord: fetch %s: attachment not found", ref)
}

func (r *Relay) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > MaxAttachmentBytes {
		return nil, fmt.Errorf("payload exceeds %d bytes", MaxAttachmentBytes)
	}
	return body, nil
}

func caption(msg ingest.Message) string {
	return fmt.Sprintf("Relayed from <#%s> (message %s)", msg.ChannelID, msg.MessageID)
}
