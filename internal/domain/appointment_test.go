package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to AppointmentStatus
		want     bool
	}{
		{AppointmentStatusPendent, AppointmentStatusAccepted, true},
		{AppointmentStatusPendent, AppointmentStatusRejected, true},
		{AppointmentStatusPendent, AppointmentStatusCanceled, false},
		{AppointmentStatusAccepted, AppointmentStatusCanceled, true},
		{AppointmentStatusAccepted, AppointmentStatusRejected, false},
		{AppointmentStatusAccepted, AppointmentStatusPendent, false},
		{AppointmentStatusRejected, AppointmentStatusAccepted, false},
		{AppointmentStatusRejected, AppointmentStatusPendent, false},
		{AppointmentStatusCanceled, AppointmentStatusAccepted, false},
		{AppointmentStatusCanceled, AppointmentStatusPendent, false},
	}

	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if AppointmentStatusPendent.Terminal() || AppointmentStatusAccepted.Terminal() {
		t.Fatalf("non-terminal statuses reported terminal")
	}
	if !AppointmentStatusRejected.Terminal() || !AppointmentStatusCanceled.Terminal() {
		t.Fatalf("terminal statuses reported non-terminal")
	}
}

func TestClientMayCancel(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if !ClientMayCancel(now.Add(25*time.Hour), now) {
		t.Fatalf("cancel 25h out should be allowed")
	}
	if ClientMayCancel(now.Add(24*time.Hour), now) {
		t.Fatalf("cancel exactly at the cutoff should be denied")
	}
	if ClientMayCancel(now.Add(2*time.Hour), now) {
		t.Fatalf("cancel 2h out should be denied")
	}
	if ClientMayCancel(now.Add(-time.Hour), now) {
		t.Fatalf("cancel of a past slot should be denied")
	}
}

func TestOccupies(t *testing.T) {
	for _, c := range []struct {
		status AppointmentStatus
		want   bool
	}{
		{AppointmentStatusPendent, true},
		{AppointmentStatusAccepted, true},
		{AppointmentStatusRejected, false},
		{AppointmentStatusCanceled, false},
	} {
		a := Appointment{Status: c.status}
		if got := a.Occupies(); got != c.want {
			t.Fatalf("Occupies with status %s = %v, want %v", c.status, got, c.want)
		}
	}
}
