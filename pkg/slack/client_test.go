package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"answer-desk/pkg/apierr"
)

func TestBuildApprovalMessageBindsCallbackToMessage(t *testing.T) {
	msg := BuildApprovalMessage("mid.42", "where is my unicorn", "You can find your unicorn...")

	if !strings.Contains(msg.Text, "Question: where is my unicorn") || !strings.Contains(msg.Text, "Proposed Answer: You can find your unicorn...") {
		t.Fatalf("unexpected prompt text: %s", msg.Text)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("expected one attachment, got %d", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.CallbackID != "mid.42" {
		t.Fatalf("callback id should be the message id, got %s", att.CallbackID)
	}
	if len(att.Actions) != 2 || att.Actions[0].Value != "approve" || att.Actions[1].Value != "reject" {
		t.Fatalf("expected approve/reject actions, got %+v", att.Actions)
	}
}

func TestParseInteraction(t *testing.T) {
	payload := `{"callback_id":"mid.42","actions":[{"name":"approve","value":"approve"}],"original_message":{"text":"prompt"}}`
	in, err := ParseInteraction(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if in.CallbackID != "mid.42" || in.Actions[0].Value != "approve" || in.OriginalMessage.Text != "prompt" {
		t.Fatalf("unexpected interaction: %+v", in)
	}

	if _, err := ParseInteraction(`{"callback_id":"mid.42"}`); err == nil {
		t.Fatal("expected error for payload without actions")
	}
	if _, err := ParseInteraction("not json"); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func TestPostMessage(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	if err := c.PostMessage(context.Background(), srv.URL, BuildApprovalMessage("m1", "q", "a")); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got.Attachments[0].CallbackID != "m1" {
		t.Fatalf("server received unexpected body: %+v", got)
	}
}

func TestPostMessageReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no_service", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient().PostMessage(context.Background(), srv.URL, Message{Text: "x"})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 api error, got %v", err)
	}
}
