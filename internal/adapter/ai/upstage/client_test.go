package upstage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/fairyhunter13/ai-chat-generator/internal/config"
	"github.com/fairyhunter13/ai-chat-generator/internal/domain"
)

func testConfig(baseURL string) config.Config {
	return config.Config{
		AppEnv:         "test",
		UpstageAPIKey:  "solar-key",
		UpstageBaseURL: baseURL,
	}
}

func TestGenerate_Success(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"solar says hi"}}],"usage":{"total_tokens":55}}`))
	}))
	defer ts.Close()

	c := New(testConfig(ts.URL))
	text, tokens, err := c.Generate(context.Background(), "make a chat", domain.DefaultGenerationParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "solar says hi" || tokens != 55 {
		t.Fatalf("text = %q tokens = %d", text, tokens)
	}
	if gotAuth != "Bearer solar-key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	// The configured model is empty, so the Solar default applies.
	if gotBody["model"] != "solar-pro" {
		t.Fatalf("model = %v, want solar-pro", gotBody["model"])
	}
}

func TestGenerate_MissingKey(t *testing.T) {
	c := New(config.Config{AppEnv: "test"})
	_, _, err := c.Generate(context.Background(), "p", domain.DefaultGenerationParams())
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestGenerate_ServerErrorRetries(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}],"usage":{"total_tokens":1}}`))
	}))
	defer ts.Close()

	c := New(testConfig(ts.URL))
	text, _, err := c.Generate(context.Background(), "p", domain.DefaultGenerationParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ok" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("text = %q calls = %d", text, calls)
	}
}
