package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "s3cret"
	messageID := "84c1e79a-2521-4c47-8a3b-c27e0a4ba6f7"
	timestamp := "2026-08-31T12:00:00Z"
	body := []byte(`{"subscription":{"type":"channel.follow"}}`)
	good := sign(secret, messageID, timestamp, body)

	tests := []struct {
		name      string
		secret    string
		messageID string
		timestamp string
		body      []byte
		signature string
		want      bool
	}{
		{"valid", secret, messageID, timestamp, body, good, true},
		{"wrong secret", "other", messageID, timestamp, body, good, false},
		{"tampered body", secret, messageID, timestamp, []byte(`{}`), good, false},
		{"replayed with new timestamp", secret, messageID, "2026-08-31T13:00:00Z", body, good, false},
		{"missing prefix", secret, messageID, timestamp, body, good[len("sha256="):], false},
		{"empty signature", secret, messageID, timestamp, body, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VerifySignature(tt.secret, tt.messageID, tt.timestamp, tt.body, tt.signature)
			if got != tt.want {
				t.Errorf("VerifySignature = %v, want %v", got, tt.want)
			}
		})
	}
}
