package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daringbooks/pkg/backoff"
	"daringbooks/pkg/mpesa"
)

var testRetry = backoff.Policy{MaxAttempts: 3, BaseDelay: time.Microsecond, Multiplier: 2}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIURL:       srv.URL,
		InstanceID:   "instance123",
		Token:        "tok",
		StoreName:    "Daring Achievers Network",
		WebsiteURL:   "daringachieversnetwork.netlify.app",
		SupportEmail: "support@example.com",
		Retry:        testRetry,
	})
}

func TestFormatRecipient(t *testing.T) {
	got, err := FormatRecipient("0712345678")
	require.NoError(t, err)
	assert.Equal(t, "254712345678@c.us", got)

	_, err = FormatRecipient("12")
	require.ErrorIs(t, err, mpesa.ErrInvalidPhoneFormat)
}

func TestSendTextSuccess(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"sent": true, "id": 101})
	})

	res := client.SendText(context.Background(), "0712345678", "hello")
	require.True(t, res.Delivered)
	assert.Equal(t, "101", res.MessageID)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "/instance123/messages/chat", gotPath)
	assert.Equal(t, "254712345678@c.us", gotPayload["to"])
	assert.Equal(t, "hello", gotPayload["body"])
}

func TestSendTextStringSentFlag(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"sent": "true", "id": "202"})
	})

	res := client.SendText(context.Background(), "0712345678", "hello")
	require.True(t, res.Delivered)
	assert.Equal(t, "202", res.MessageID)
}

func TestSendTextExhaustsRetries(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	res := client.SendText(context.Background(), "0712345678", "hello")
	assert.False(t, res.Delivered)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, calls)
	require.Error(t, res.Err)
}

func TestSendTextRecoversMidRetry(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"sent": true, "id": 7})
	})

	res := client.SendText(context.Background(), "0712345678", "hello")
	assert.True(t, res.Delivered)
	assert.Equal(t, 3, res.Attempts)
}

func TestSendTextInvalidPhone(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an invalid recipient")
	})

	res := client.SendText(context.Background(), "banana", "hello")
	assert.False(t, res.Delivered)
	require.ErrorIs(t, res.Err, mpesa.ErrInvalidPhoneFormat)
}

func TestSendDocumentPayload(t *testing.T) {
	var gotPayload map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/instance123/messages/document", r.URL.Path)
		require.Equal(t, "tok", r.URL.Query().Get("token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"sent": true, "id": 55})
	})

	res := client.SendDocument(context.Background(), "254712345678",
		"https://store.example.com/uploads/books/mindset.pdf", "Winning Mindset.pdf", "enjoy")
	require.True(t, res.Delivered)
	assert.Equal(t, "https://store.example.com/uploads/books/mindset.pdf", gotPayload["document"])
	assert.Equal(t, "Winning Mindset.pdf", gotPayload["filename"])
	assert.Equal(t, "enjoy", gotPayload["caption"])
}

func TestSendEbookFallsBackToText(t *testing.T) {
	var chatCalls, docCalls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/instance123/messages/document":
			docCalls++
			w.WriteHeader(http.StatusBadGateway)
		case "/instance123/messages/chat":
			chatCalls++
			var payload map[string]string
			_ = json.NewDecoder(r.Body).Decode(&payload)
			assert.Contains(t, payload["body"], "Winning Mindset")
			assert.Contains(t, payload["body"], "DA1700000000001ABC")
			assert.Contains(t, payload["body"], "https://shop.example.com/download/tok123")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"sent": true, "id": 9})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	res := client.SendEbook(context.Background(), EbookDelivery{
		Phone:         "0712345678",
		BookTitle:     "Winning Mindset",
		Author:        "Mwatha Njoroge",
		TransactionID: "DA1700000000001ABC",
		Amount:        500,
		FileURL:       "https://store.example.com/uploads/books/mindset.pdf",
		Filename:      "Winning Mindset.pdf",
		DownloadURL:   "https://shop.example.com/download/tok123",
	})
	require.True(t, res.Delivered)
	assert.Equal(t, 3, docCalls)
	assert.Equal(t, 1, chatCalls)
}

func TestSendEbookDocumentFirst(t *testing.T) {
	var docCalls, chatCalls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/instance123/messages/document":
			docCalls++
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"sent": true, "id": 1})
		default:
			chatCalls++
		}
	})

	res := client.SendEbook(context.Background(), EbookDelivery{
		Phone:    "0712345678",
		FileURL:  "https://store.example.com/f.pdf",
		Filename: "f.pdf",
	})
	require.True(t, res.Delivered)
	assert.Equal(t, 1, docCalls)
	assert.Zero(t, chatCalls)
}

func TestEndpointDoesNotDuplicateInstanceID(t *testing.T) {
	c := NewClient(Config{APIURL: "https://api.ultramsg.com/instance123/", InstanceID: "instance123", Token: "tok"})
	assert.Equal(t, "https://api.ultramsg.com/instance123/messages/chat?token=tok", c.endpoint("/messages/chat"))
}
