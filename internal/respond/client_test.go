package respond_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/respond"
	"github.com/voxwire/voxwire/pkg/audio"
)

func testFrame(samples int, rate int) audio.Frame {
	return audio.Frame{PCM: make([]byte, samples*2), SampleRate: rate, Channels: 1}
}

func TestStartSession(t *testing.T) {
	var gotAuth, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(respond.StartResult{
			SessionID:  "s-42",
			Language:   "en-IN",
			BudgetSecs: 300,
		})
	}))
	defer ts.Close()

	c, err := respond.NewClient(ts.URL, "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	res, err := c.StartSession(context.Background(), respond.StartRequest{AgentID: "a1"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if res.SessionID != "s-42" || res.BudgetSecs != 300 {
		t.Fatalf("result = %+v", res)
	}
	if gotPath != "/start-session" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
}

func TestStartSessionForwardsContract(t *testing.T) {
	var gotContract string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Contract string `json:"contract"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotContract = req.Contract
		json.NewEncoder(w).Encode(respond.StartResult{SessionID: "s-1"})
	}))
	defer ts.Close()

	c, _ := respond.NewClient(ts.URL, "")
	contract := "Extract the following fields from the user's reply:\n- Mobile (type: phone)\n"
	if _, err := c.StartSession(context.Background(), respond.StartRequest{AgentID: "a1", Contract: contract}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if gotContract != contract {
		t.Fatalf("contract on the wire = %q, want %q", gotContract, contract)
	}
}

func TestStartSessionRejectsEmptyID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(respond.StartResult{})
	}))
	defer ts.Close()

	c, _ := respond.NewClient(ts.URL, "")
	if _, err := c.StartSession(context.Background(), respond.StartRequest{}); !errors.Is(err, respond.ErrBoundary) {
		t.Fatalf("error = %v, want ErrBoundary", err)
	}
}

func TestChatExpiredStatusInBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "session_expired"})
	}))
	defer ts.Close()

	c, _ := respond.NewClient(ts.URL, "")
	if _, err := c.Chat(context.Background(), "s1", "hi"); !errors.Is(err, respond.ErrSessionExpired) {
		t.Fatalf("error = %v, want ErrSessionExpired", err)
	}
}

func TestChatExpiredStatusOnErrorCode(t *testing.T) {
	// Expiry must be distinguishable even when the boundary pairs it with a
	// non-2xx status code.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
		json.NewEncoder(w).Encode(map[string]string{"status": "session_expired"})
	}))
	defer ts.Close()

	c, _ := respond.NewClient(ts.URL, "")
	if _, err := c.Chat(context.Background(), "s1", "hi"); !errors.Is(err, respond.ErrSessionExpired) {
		t.Fatalf("error = %v, want ErrSessionExpired", err)
	}
}

func TestChatServerErrorIsBoundaryError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	c, _ := respond.NewClient(ts.URL, "")
	_, err := c.Chat(context.Background(), "s1", "hi")
	if !errors.Is(err, respond.ErrBoundary) {
		t.Fatalf("error = %v, want ErrBoundary", err)
	}
	if errors.Is(err, respond.ErrSessionExpired) {
		t.Fatal("generic failure must not look like expiry")
	}
}

func TestChatTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	c, _ := respond.NewClient(ts.URL, "", respond.WithTimeout(50*time.Millisecond))
	if _, err := c.Chat(context.Background(), "s1", "hi"); !errors.Is(err, respond.ErrBoundary) {
		t.Fatalf("error = %v, want ErrBoundary", err)
	}
}

func TestOrchestratorRespondDecodesAudio(t *testing.T) {
	reply := testFrame(8000, 16000) // 500ms of 16k mono

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"reply":             "sure, done",
			"audio":             base64.StdEncoding.EncodeToString(audio.EncodeWAV(reply)),
			"audio_format":      "wav",
			"remaining_seconds": 120,
		})
	}))
	defer ts.Close()

	c, _ := respond.NewClient(ts.URL, "")
	o := respond.NewOrchestrator(c, 48000)

	got, err := o.Respond(context.Background(), "s1", "please do it")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got.Text != "sure, done" || got.RemainingSecs != 120 {
		t.Fatalf("reply = %+v", got)
	}
	if len(got.Frames) == 0 {
		t.Fatal("no playback frames decoded")
	}
	var total time.Duration
	for _, f := range got.Frames {
		if f.SampleRate != 48000 || f.Channels != 1 {
			t.Fatalf("frame format = %d Hz %d ch, want 48000/1", f.SampleRate, f.Channels)
		}
		total += f.Duration()
	}
	// 500ms in, about 500ms out regardless of the rate conversion.
	if total < 490*time.Millisecond || total > 510*time.Millisecond {
		t.Fatalf("total playback = %v, want ~500ms", total)
	}
}

func TestOrchestratorRespondBadAudioFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"reply":        "text is fine",
			"audio":        base64.StdEncoding.EncodeToString([]byte("not audio")),
			"audio_format": "wav",
		})
	}))
	defer ts.Close()

	c, _ := respond.NewClient(ts.URL, "")
	o := respond.NewOrchestrator(c, 48000)
	if _, err := o.Respond(context.Background(), "s1", "hi"); !errors.Is(err, respond.ErrBoundary) {
		t.Fatalf("error = %v, want ErrBoundary", err)
	}
}

func TestOrchestratorStartSessionBadWelcomeIsSilent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(respond.StartResult{
			SessionID:    "s-1",
			BudgetSecs:   60,
			WelcomeAudio: "%%% not base64 %%%",
			AudioFormat:  "wav",
		})
	}))
	defer ts.Close()

	c, _ := respond.NewClient(ts.URL, "")
	o := respond.NewOrchestrator(c, 48000)

	res, frames, err := o.StartSession(context.Background(), respond.StartRequest{AgentID: "a1"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if res.SessionID != "s-1" {
		t.Fatalf("result = %+v", res)
	}
	if frames != nil {
		t.Fatal("undecodable welcome audio must yield a silent start, not frames")
	}
}

func TestOrchestratorStartSessionDecodesWelcome(t *testing.T) {
	welcome := testFrame(1600, 16000)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(respond.StartResult{
			SessionID:    "s-1",
			BudgetSecs:   60,
			WelcomeAudio: base64.StdEncoding.EncodeToString(audio.EncodeWAV(welcome)),
			AudioFormat:  "wav",
		})
	}))
	defer ts.Close()

	c, _ := respond.NewClient(ts.URL, "")
	o := respond.NewOrchestrator(c, 48000)

	_, frames, err := o.StartSession(context.Background(), respond.StartRequest{AgentID: "a1"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if len(frames) == 0 {
		t.Fatal("welcome audio not decoded")
	}
}
