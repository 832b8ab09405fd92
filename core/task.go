package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DeliveryTask is the payload carried by queue jobs. It is the wire form of a
// resolved DeliveryTarget plus enough event context to record attempts.
type DeliveryTask struct {
	Event          string            `json:"event"`
	Channel        Channel           `json:"channel"`
	Recipient      string            `json:"recipient,omitempty"`
	Payload        map[string]any    `json:"payload,omitempty"`
	Title          string            `json:"title,omitempty"`
	Body           string            `json:"body,omitempty"`
	RegistrationID string            `json:"registration_id,omitempty"`
	Endpoint       string            `json:"endpoint,omitempty"`
	Secret         string            `json:"secret,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
}

func NewDeliveryTask(target DeliveryTarget) DeliveryTask {
	return DeliveryTask{
		Event:          strings.TrimSpace(target.Event),
		Channel:        target.Channel,
		Recipient:      strings.TrimSpace(target.Recipient),
		Payload:        target.Payload,
		Title:          target.Title,
		Body:           target.Body,
		RegistrationID: strings.TrimSpace(target.RegistrationID),
		Endpoint:       strings.TrimSpace(target.Endpoint),
		Secret:         target.Secret,
		Headers:        target.Headers,
	}
}

func (t DeliveryTask) Target() DeliveryTarget {
	return DeliveryTarget{
		Channel:        t.Channel,
		Recipient:      t.Recipient,
		Event:          t.Event,
		Payload:        t.Payload,
		Title:          t.Title,
		Body:           t.Body,
		RegistrationID: t.RegistrationID,
		Endpoint:       t.Endpoint,
		Secret:         t.Secret,
		Headers:        t.Headers,
	}
}

func (t DeliveryTask) Encode() ([]byte, error) {
	if strings.TrimSpace(t.Event) == "" {
		return nil, fmt.Errorf("%w: task event is required", ErrInvalidPayload)
	}
	if err := t.Channel.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(t)
}

func DecodeDeliveryTask(payload []byte) (DeliveryTask, error) {
	var task DeliveryTask
	if len(payload) == 0 {
		return task, fmt.Errorf("%w: empty task payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(payload, &task); err != nil {
		return task, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(task.Event) == "" {
		return task, fmt.Errorf("%w: task event is required", ErrInvalidPayload)
	}
	if err := task.Channel.Validate(); err != nil {
		return task, err
	}
	return task, nil
}
