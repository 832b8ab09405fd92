package core

import (
	"errors"
	"testing"
)

func TestDeliveryTaskEncodeDecode(t *testing.T) {
	target := DeliveryTarget{
		Channel:   ChannelEmail,
		Recipient: "user-1",
		Event:     "order.shipped",
		Payload:   map[string]any{"order_id": "ord-42"},
		Title:     "Order shipped",
		Body:      "On the way",
	}

	payload, err := NewDeliveryTask(target).Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	task, err := DecodeDeliveryTask(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if task.Event != "order.shipped" || task.Channel != ChannelEmail || task.Recipient != "user-1" {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.Target().Payload["order_id"] != "ord-42" {
		t.Fatalf("expected payload to survive round trip")
	}
}

func TestDecodeDeliveryTask_Invalid(t *testing.T) {
	if _, err := DecodeDeliveryTask(nil); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected empty payload rejection, got %v", err)
	}
	if _, err := DecodeDeliveryTask([]byte("not-json")); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected malformed payload rejection, got %v", err)
	}
	if _, err := DecodeDeliveryTask([]byte(`{"channel":"email"}`)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected missing event rejection, got %v", err)
	}
	if _, err := DecodeDeliveryTask([]byte(`{"event":"x","channel":"fax"}`)); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected invalid channel rejection, got %v", err)
	}
}
