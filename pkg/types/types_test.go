package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestReasonOf(t *testing.T) {
	if got := ReasonOf(ErrRoomFull); got != "room_full" {
		t.Errorf("Expected room_full, got %s", got)
	}
	wrapped := fmt.Errorf("join ROOM01: %w", ErrNameTaken)
	if got := ReasonOf(wrapped); got != "name_taken" {
		t.Errorf("Expected reason through wrapping, got %s", got)
	}
	if !errors.Is(wrapped, ErrNameTaken) {
		t.Error("Wrapped rejection should match its sentinel")
	}
	if got := ReasonOf(errors.New("disk full")); got != "internal_error" {
		t.Errorf("Expected internal_error for plain errors, got %s", got)
	}
}

func TestValidateSessionID(t *testing.T) {
	valid := []string{"ROOM", "room01", "ABCDEF123456"}
	invalid := []string{"", "abc", "ROOM-01", "ABCDEFGHIJKLM", "sala 1"}

	for _, id := range valid {
		if err := ValidateSessionID(id); err != nil {
			t.Errorf("Expected %q to be valid: %v", id, err)
		}
	}
	for _, id := range invalid {
		if err := ValidateSessionID(id); !errors.Is(err, ErrInvalidSessionID) {
			t.Errorf("Expected %q to be rejected", id)
		}
	}
}

func TestValidatePlayerName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"simple", "Ana", true},
		{"accents", "João Médico", true},
		{"blank", "   ", false},
		{"too long", strings.Repeat("x", 25), false},
		{"control char", "Ana\x07", false},
		{"max length runes", strings.Repeat("é", 24), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlayerName(tt.input)
			if tt.ok && err != nil {
				t.Errorf("Expected valid, got %v", err)
			}
			if !tt.ok && ReasonOf(err) != "invalid_payload" {
				t.Errorf("Expected invalid_payload, got %v", err)
			}
		})
	}
}

func TestValidateChatText(t *testing.T) {
	if err := ValidateChatText("olá"); err != nil {
		t.Errorf("Expected valid chat: %v", err)
	}
	if err := ValidateChatText(" \n "); err == nil {
		t.Error("Whitespace-only chat should be rejected")
	}
	if err := ValidateChatText(strings.Repeat("a", 501)); err == nil {
		t.Error("Chat over 500 characters should be rejected")
	}
}

func TestAreaTypeValid(t *testing.T) {
	for _, at := range AreaTypes {
		if !at.Valid() {
			t.Errorf("Catalog type %s should be valid", at)
		}
		if err := ValidateAreaSpec(AreaSpec{Type: at, W: 1, H: 1}); err != nil {
			t.Errorf("Spec of type %s should be valid: %v", at, err)
		}
	}
	if AreaType("spa").Valid() {
		t.Error("Unknown type should be invalid")
	}
	if err := ValidateAreaSpec(AreaSpec{Type: "spa"}); !errors.Is(err, ErrInvalidAreaType) {
		t.Errorf("Expected ErrInvalidAreaType, got %v", err)
	}
}

func TestStatsApplyClamps(t *testing.T) {
	s := InitialStats().Apply(map[string]float64{
		StatOxygen:  -30,
		StatHealth:  25,
		StatFatigue: -10,
		"morale":    -50,
	})
	if s.Oxygen != 70 {
		t.Errorf("Expected oxygen 70, got %v", s.Oxygen)
	}
	if s.Health != StatMax {
		t.Errorf("Expected health clamped to %v, got %v", StatMax, s.Health)
	}
	if s.Fatigue != StatMin {
		t.Errorf("Expected fatigue clamped to %v, got %v", StatMin, s.Fatigue)
	}
	if s.Sanity != 100 {
		t.Errorf("Unknown keys should not change stats, sanity %v", s.Sanity)
	}

	s = s.Apply(map[string]float64{StatOxygen: -500})
	if s.Oxygen != StatMin {
		t.Errorf("Expected oxygen floor, got %v", s.Oxygen)
	}
}

func TestOutboundEnvelope(t *testing.T) {
	now := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	out := NewOutbound(EventPlaceError, ErrorPayload{Reason: "not_host", Message: "nope", For: MessageTypePlaceArea}, now)

	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if generic["type"] != "place_error" {
		t.Errorf("Expected type place_error, got %v", generic["type"])
	}
	if generic["timestamp"] != "2030-01-02T03:04:05Z" {
		t.Errorf("Expected RFC3339 timestamp, got %v", generic["timestamp"])
	}
	payload, ok := generic["payload"].(map[string]any)
	if !ok || payload["reason"] != "not_host" || payload["for"] != "place_area" {
		t.Errorf("Unexpected payload %v", generic["payload"])
	}
}

func TestMessagePayloadStaysRaw(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"type":"place_area","payload":{"type":"kitchen","x":1,"y":2,"w":2,"h":2}}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var spec AreaSpec
	if err := json.Unmarshal(msg.Payload, &spec); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if spec.Type != AreaKitchen || spec.X != 1 || spec.Y != 2 {
		t.Errorf("Unexpected spec %+v", spec)
	}
}
