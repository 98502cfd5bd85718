package discord

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sonichunter/internal/discord/mock"
	"github.com/MrWong99/sonichunter/internal/ingest"
)

func audioServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ok.mp3", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(body)
	})
	mux.HandleFunc("GET /gone.mp3", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("GET /huge.mp3", func(w http.ResponseWriter, _ *http.Request) {
		chunk := bytes.Repeat([]byte{0xAA}, 1<<20)
		for range MaxAttachmentBytes/len(chunk) + 1 {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func sourceMessage(url string, size int64) ingest.Message {
	return ingest.Message{
		ChannelID: "music",
		MessageID: "m1",
		Audio: &ingest.Audio{
			AttachmentID: "src-att",
			URL:          url,
			Filename:     "DJ Overdose - Zigzag.mp3",
			ContentType:  "audio/mpeg",
			Size:         size,
		},
	}
}

func newTestRelay(sess Session, srv *httptest.Server) *Relay {
	r := NewRelay(sess, "relay", WithHTTPClient(srv.Client()))
	r.backoff = fastBackoff
	return r
}

func TestRelay_Resolve(t *testing.T) {
	t.Parallel()

	payload := []byte("ID3-fake-audio")
	srv := audioServer(t, payload)
	sess := &mock.Session{}
	r := newTestRelay(sess, srv)

	ref, err := r.Resolve(context.Background(), sourceMessage(srv.URL+"/ok.mp3", int64(len(payload))))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref != "relay/sent-1/att-1-0" {
		t.Errorf("ref = %q", ref)
	}

	if sess.SentCount() != 1 {
		t.Fatalf("sent %d messages, want 1", sess.SentCount())
	}
	sent := sess.Sent[0]
	if sent.ChannelID != "relay" {
		t.Errorf("sent to %q, want relay", sent.ChannelID)
	}
	if !bytes.Equal(sent.Files["DJ Overdose - Zigzag.mp3"], payload) {
		t.Errorf("uploaded body = %q", sent.Files["DJ Overdose - Zigzag.mp3"])
	}
	if !strings.Contains(sent.Data.Content, "<#music>") || !strings.Contains(sent.Data.Content, "m1") {
		t.Errorf("caption = %q, want provenance", sent.Data.Content)
	}
	if sent.Data.AllowedMentions == nil || len(sent.Data.AllowedMentions.Parse) != 0 {
		t.Errorf("caption may ping: %+v", sent.Data.AllowedMentions)
	}

	parsed, err := ParseRef(ref)
	if err != nil {
		t.Fatalf("ParseRef: %v", err)
	}
	if parsed.String() != ref {
		t.Errorf("ParseRef round trip = %q", parsed.String())
	}
}

func TestRelay_ResolveRetriesRateLimit(t *testing.T) {
	t.Parallel()

	srv := audioServer(t, []byte("abc"))
	sess := &mock.Session{SendErrs: []error{mock.RateLimitError(), mock.RateLimitError()}}
	r := newTestRelay(sess, srv)

	ref, err := r.Resolve(context.Background(), sourceMessage(srv.URL+"/ok.mp3", 3))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sess.SentCount() != 3 {
		t.Errorf("upload attempts = %d, want 3", sess.SentCount())
	}
	if ref != "relay/sent-3/att-3-0" {
		t.Errorf("ref = %q", ref)
	}
	for _, s := range sess.Sent {
		if !bytes.Equal(s.Files["DJ Overdose - Zigzag.mp3"], []byte("abc")) {
			t.Errorf("retry re-sent body %q", s.Files["DJ Overdose - Zigzag.mp3"])
		}
	}
}

func TestRelay_ResolveFailures(t *testing.T) {
	t.Parallel()

	srv := audioServer(t, []byte("abc"))
	tests := []struct {
		name string
		sess *mock.Session
		msg  ingest.Message
	}{
		{name: "no audio", sess: &mock.Session{}, msg: ingest.Message{ChannelID: "c", MessageID: "m"}},
		{name: "declared oversize", sess: &mock.Session{}, msg: sourceMessage(srv.URL+"/ok.mp3", MaxAttachmentBytes+1)},
		{name: "download 404", sess: &mock.Session{}, msg: sourceMessage(srv.URL+"/gone.mp3", 3)},
		{name: "body oversize", sess: &mock.Session{}, msg: sourceMessage(srv.URL+"/huge.mp3", 3)},
		{name: "bad url", sess: &mock.Session{}, msg: sourceMessage("://nope", 3)},
		{
			name: "upload rejected",
			sess: &mock.Session{SendErrs: []error{errors.New("missing permissions")}},
			msg:  sourceMessage(srv.URL+"/ok.mp3", 3),
		},
		{
			name: "no attachment on relay copy",
			sess: &mock.Session{SendFunc: func(string, *discordgo.MessageSend) (*discordgo.Message, error) {
				return &discordgo.Message{ID: "x"}, nil
			}},
			msg: sourceMessage(srv.URL+"/ok.mp3", 3),
		},
		{
			name: "rate limit exhausted",
			sess: &mock.Session{SendErrs: []error{
				mock.RateLimitError(), mock.RateLimitError(), mock.RateLimitError(), mock.RateLimitError(),
			}},
			msg: sourceMessage(srv.URL+"/ok.mp3", 3),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := newTestRelay(tt.sess, srv).Resolve(context.Background(), tt.msg)
			if !errors.Is(err, ingest.ErrResolution) {
				t.Errorf("err = %v, want ErrResolution", err)
			}
		})
	}
}

func TestRelay_Fetch(t *testing.T) {
	t.Parallel()

	srv := audioServer(t, []byte("abc"))
	sess := &mock.Session{}
	r := newTestRelay(sess, srv)
	ref, err := r.Resolve(context.Background(), sourceMessage(srv.URL+"/ok.mp3", 3))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	url, err := r.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if url != "https://cdn.example/relay/DJ Overdose - Zigzag.mp3" {
		t.Errorf("url = %q", url)
	}

	if _, err := r.Fetch(context.Background(), "relay/unknown/att"); err == nil {
		t.Error("Fetch of unknown message succeeded")
	}
	if _, err := r.Fetch(context.Background(), "relay/sent-1/other"); err == nil {
		t.Error("Fetch of unknown attachment succeeded")
	}
	if _, err := r.Fetch(context.Background(), "garbage"); !errors.Is(err, ErrInvalidRef) {
		t.Errorf("Fetch(garbage) err = %v, want ErrInvalidRef", err)
	}
}

func TestParseRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Ref
		wantErr bool
	}{
		{in: "1/2/3", want: Ref{ChannelID: "1", MessageID: "2", AttachmentID: "3"}},
		{in: "1/2", wantErr: true},
		{in: "1/2/3/4", wantErr: true},
		{in: "1//3", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRef(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRef(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRef(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
