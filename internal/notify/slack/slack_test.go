package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/erpath/internal/care"
	"github.com/linnemanlabs/erpath/internal/severity"
	"github.com/linnemanlabs/erpath/internal/triage"
)

func criticalSession() *care.Session {
	return &care.Session{
		ID:         "01JN123",
		Assessment: triage.Assessment{PrimaryComplaint: "crushing chest pain"},
		Decision: &triage.Decision{
			RuleLevel:      severity.LevelII,
			EffectiveLevel: severity.LevelI,
			Rationale:      "Signs of acute coronary syndrome.",
			Source:         triage.SourceExternal,
		},
		UpdatedAt: time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}
}

func TestNotifyCritical_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	if err := n.NotifyCritical(context.Background(), criticalSession()); err != nil {
		t.Fatalf("NotifyCritical: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, divider, rationale, context = 6 blocks
	if len(blocks) != 6 {
		t.Errorf("blocks count = %d, want 6", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "Level I - Resuscitation") {
		t.Errorf("header text = %q, want to contain the level label", headerText)
	}

	raw, _ := json.Marshal(got)
	for _, want := range []string{"01JN123", "acute coronary syndrome", "crushing chest pain"} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("payload missing %q", want)
		}
	}
}

func TestNotifyCritical_NoOp(t *testing.T) {
	t.Parallel()

	if err := New("", log.Nop()).NotifyCritical(context.Background(), criticalSession()); err != nil {
		t.Fatalf("empty URL should be no-op, got: %v", err)
	}

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := New(srv.URL, nil).NotifyCritical(context.Background(), &care.Session{ID: "pending"}); err != nil {
		t.Fatalf("undecided session: %v", err)
	}
	if calls != 0 {
		t.Errorf("webhook called %d times for undecided session", calls)
	}
}

func TestNotifyCritical_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	err := New(srv.URL, log.Nop()).NotifyCritical(context.Background(), criticalSession())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestBuildMessage_TruncatesRationale(t *testing.T) {
	t.Parallel()

	s := criticalSession()
	s.Decision.Rationale = strings.Repeat("é", 4000)

	blocks := buildMessage(s)["blocks"].([]map[string]any)
	text := blocks[4]["text"].(map[string]any)["text"].(string)

	if len(text) > maxRationaleLen+len("*Rationale*\n\n") {
		t.Errorf("rationale text length = %d, expected <= %d", len(text), maxRationaleLen+len("*Rationale*\n\n"))
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("expected truncated rationale to end with ...")
	}
	if !utf8.ValidString(text) {
		t.Error("truncation split a rune")
	}
}

func TestSourceText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		d    triage.Decision
		want string
	}{
		{"external", triage.Decision{Source: triage.SourceExternal}, "external"},
		{"fallback", triage.Decision{Source: triage.SourceRules, FallbackReason: triage.FallbackTimeout}, "rules (fallback: timeout)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := sourceText(&tt.d); got != tt.want {
				t.Errorf("sourceText = %q, want %q", got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("chest pain", "Patient unresponsive.")
	f.Add("", "")
	f.Add("<@U123> mention", "*bold* _italic_ ~strike~")
	f.Add("complaint\x00\x01\x02", "rationale\ttab")
	f.Add(strings.Repeat("A", 5000), strings.Repeat("x", 10000))
	f.Add("test", "```code block``` and <http://example.com|link>")

	f.Fuzz(func(t *testing.T, complaint, rationale string) {
		s := criticalSession()
		s.Assessment.PrimaryComplaint = complaint
		s.Decision.Rationale = rationale

		// Must not panic
		msg := buildMessage(s)

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}
		if blocks, ok := decoded["blocks"].([]any); !ok || len(blocks) != 6 {
			t.Fatalf("blocks = %v, want 6", decoded["blocks"])
		}
	})
}
