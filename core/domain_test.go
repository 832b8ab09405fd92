package core

import (
	"errors"
	"testing"
	"time"
)

func TestJobTransitionTo_ValidAndInvalid(t *testing.T) {
	now := time.Now().UTC()

	job := Job{Status: JobStatusWaiting}
	if err := job.TransitionTo(JobStatusActive, "", now); err != nil {
		t.Fatalf("expected waiting->active to succeed, got %v", err)
	}
	if err := job.TransitionTo(JobStatusDelayed, "timeout", now); err != nil {
		t.Fatalf("expected active->delayed to succeed, got %v", err)
	}
	if job.LastError != "timeout" {
		t.Fatalf("expected reason recorded, got %q", job.LastError)
	}
	if err := job.TransitionTo(JobStatusCompleted, "", now); !errors.Is(err, ErrInvalidJobStatusTransition) {
		t.Fatalf("expected delayed->completed to be rejected, got %v", err)
	}

	job = Job{Status: JobStatusActive, WorkerID: "worker-1"}
	if err := job.TransitionTo(JobStatusCompleted, "", now); err != nil {
		t.Fatalf("expected active->completed to succeed, got %v", err)
	}
	if job.WorkerID != "" || job.LeaseExpiresAt != nil {
		t.Fatalf("expected lease cleared on terminal transition")
	}
	if err := job.TransitionTo(JobStatusWaiting, "", now); !errors.Is(err, ErrInvalidJobStatusTransition) {
		t.Fatalf("expected completed to be final, got %v", err)
	}
}

func TestJobTransitionTo_FailedIsRedrivable(t *testing.T) {
	now := time.Now().UTC()
	job := Job{Status: JobStatusFailed, LastError: "boom"}
	if err := job.TransitionTo(JobStatusWaiting, "", now); err != nil {
		t.Fatalf("expected failed->waiting to succeed, got %v", err)
	}
}

func TestJobClaimable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ready := Job{Status: JobStatusWaiting, ScheduledAt: now.Add(-time.Minute)}
	if !ready.Claimable(now) {
		t.Fatalf("expected waiting job with elapsed schedule to be claimable")
	}

	delayed := Job{Status: JobStatusDelayed, ScheduledAt: now.Add(time.Minute)}
	if delayed.Claimable(now) {
		t.Fatalf("expected future delayed job to not be claimable")
	}
	if !delayed.Claimable(now.Add(2 * time.Minute)) {
		t.Fatalf("expected delayed job to become claimable after its schedule")
	}

	active := Job{Status: JobStatusActive, ScheduledAt: now.Add(-time.Minute)}
	if active.Claimable(now) {
		t.Fatalf("expected active job to not be claimable")
	}
}

func TestQuietHoursContains_SameDayWindow(t *testing.T) {
	window := QuietHours{Start: "09:00", End: "17:00"}

	inside := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	if ok, err := window.Contains(inside); err != nil || !ok {
		t.Fatalf("expected 12:30 inside 09:00-17:00, got ok=%v err=%v", ok, err)
	}
	atEnd := time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)
	if ok, _ := window.Contains(atEnd); ok {
		t.Fatalf("expected end bound to be exclusive")
	}
	before := time.Date(2026, 3, 1, 8, 59, 0, 0, time.UTC)
	if ok, _ := window.Contains(before); ok {
		t.Fatalf("expected 08:59 outside window")
	}
}

func TestQuietHoursContains_OvernightWrap(t *testing.T) {
	window := QuietHours{Start: "22:00", End: "06:00"}

	cases := []struct {
		hour, minute int
		want         bool
	}{
		{23, 30, true},
		{5, 59, true},
		{6, 0, false},
		{12, 0, false},
		{22, 0, true},
	}
	for _, tc := range cases {
		at := time.Date(2026, 3, 1, tc.hour, tc.minute, 0, 0, time.UTC)
		got, err := window.Contains(at)
		if err != nil {
			t.Fatalf("contains(%02d:%02d) returned error: %v", tc.hour, tc.minute, err)
		}
		if got != tc.want {
			t.Fatalf("contains(%02d:%02d) = %v, want %v", tc.hour, tc.minute, got, tc.want)
		}
	}
}

func TestQuietHoursContains_Timezone(t *testing.T) {
	window := QuietHours{Start: "22:00", End: "06:00", Timezone: "America/New_York"}

	// 03:00 UTC is 22:00 or 23:00 in New York depending on DST; either way
	// it falls inside the overnight window.
	at := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	if ok, err := window.Contains(at); err != nil || !ok {
		t.Fatalf("expected 03:00 UTC inside NY overnight window, got ok=%v err=%v", ok, err)
	}
}

func TestQuietHoursContains_InvalidClock(t *testing.T) {
	window := QuietHours{Start: "25:00", End: "06:00"}
	if _, err := window.Contains(time.Now()); err == nil {
		t.Fatalf("expected invalid start clock to error")
	}
}

func TestPreferencesEnabledFor_DefaultsToEnabled(t *testing.T) {
	prefs := NotificationPreferences{UserID: "user-1"}
	if !prefs.EnabledFor(ChannelPush) {
		t.Fatalf("expected absent preference map to enable channels")
	}

	prefs.Channels = map[Channel]bool{ChannelSMS: false}
	if prefs.EnabledFor(ChannelSMS) {
		t.Fatalf("expected explicit opt-out to disable sms")
	}
	if !prefs.EnabledFor(ChannelEmail) {
		t.Fatalf("expected unlisted channel to stay enabled")
	}
}

func TestWebhookRegistrationValidate(t *testing.T) {
	registration := WebhookRegistration{
		Endpoint: "https://example.com/hooks",
		Events:   []string{"order.shipped"},
		Secret:   "shhh",
	}
	if err := registration.Validate(); err != nil {
		t.Fatalf("expected valid registration, got %v", err)
	}

	registration.Endpoint = "ftp://example.com"
	if err := registration.Validate(); !errors.Is(err, ErrInvalidEndpoint) {
		t.Fatalf("expected scheme rejection, got %v", err)
	}

	registration.Endpoint = "https://example.com"
	registration.Events = nil
	if err := registration.Validate(); err == nil {
		t.Fatalf("expected empty event list to be rejected")
	}
}

func TestWebhookRegistrationSubscribedTo(t *testing.T) {
	registration := WebhookRegistration{Events: []string{"order.shipped", "order.cancelled"}}
	if !registration.SubscribedTo("order.shipped") {
		t.Fatalf("expected subscription match")
	}
	if registration.SubscribedTo("user.signup") {
		t.Fatalf("expected no match for unlisted event")
	}
}

func TestTemplateRender(t *testing.T) {
	template := NotificationTemplate{
		Title: "Order {{order_id}} shipped",
		Body:  "Hi {{name}}, your order {{order_id}} is on the way via {{carrier}}.",
	}
	title, body := template.Render(map[string]any{
		"order_id": "ord-42",
		"name":     "Ada",
	})
	if title != "Order ord-42 shipped" {
		t.Fatalf("unexpected title: %q", title)
	}
	if body != "Hi Ada, your order ord-42 is on the way via ." {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestNormalizeChannel(t *testing.T) {
	channel, err := NormalizeChannel("  WebHook ")
	if err != nil {
		t.Fatalf("expected webhook to normalize, got %v", err)
	}
	if channel != ChannelWebhook {
		t.Fatalf("unexpected channel %q", channel)
	}
	if _, err := NormalizeChannel("fax"); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected invalid channel error, got %v", err)
	}
}
