package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/atlas/pkg/provider/classifier"
	"github.com/MrWong99/atlas/pkg/provider/classifier/gemini"
	"github.com/MrWong99/atlas/pkg/types"
)

// startServer replies to every generateContent call with text as the single
// candidate part, and records the decoded request body.
func startServer(t *testing.T, text string, reqs chan<- map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		if reqs != nil {
			reqs <- req
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": text}},
				},
				"finishReason": "STOP",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := gemini.New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestClassify_ParsesResult(t *testing.T) {
	t.Parallel()

	reqs := make(chan map[string]any, 1)
	srv := startServer(t, `{"transcription":"open youtube","task":{"type":"open_app","payload":{"name":"YouTube"}}}`, reqs)

	p, err := gemini.New(context.Background(), "key", gemini.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wav := []byte("RIFF....WAVE")
	res, err := p.Classify(context.Background(), classifier.Audio{Data: wav, MIMEType: "audio/wav"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Transcription != "open youtube" {
		t.Errorf("transcription = %q", res.Transcription)
	}
	if res.Task.Kind != types.KindOpenApp || res.Task.Payload.Get(types.KeyName) != "YouTube" {
		t.Errorf("task = %v", res.Task)
	}

	req := <-reqs
	cfg, _ := req["generationConfig"].(map[string]any)
	if cfg["responseMimeType"] != "application/json" {
		t.Errorf("responseMimeType = %v", cfg["responseMimeType"])
	}
	contents, _ := req["contents"].([]any)
	if len(contents) != 1 {
		t.Fatalf("contents = %d", len(contents))
	}
	parts := contents[0].(map[string]any)["parts"].([]any)
	inline := parts[0].(map[string]any)["inlineData"].(map[string]any)
	if inline["mimeType"] != "audio/wav" || inline["data"] != base64.StdEncoding.EncodeToString(wav) {
		t.Errorf("inlineData = %v", inline)
	}
	if _, ok := req["systemInstruction"]; !ok {
		t.Error("systemInstruction missing")
	}
}

func TestClassify_InvalidFormat(t *testing.T) {
	t.Parallel()

	srv := startServer(t, `{"transcription": 42}`, nil)
	p, err := gemini.New(context.Background(), "key", gemini.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Classify(context.Background(), classifier.Audio{Data: []byte{0}, MIMEType: "audio/wav"}); !errors.Is(err, classifier.ErrInvalidFormat) {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
}
