package scheduling

import (
	"context"
	"log/slog"

	"agendo/backend/internal/domain"
)

// Notifier is the best-effort notification collaborator. It is invoked after
// a scheduling transition commits; errors are logged and swallowed and never
// revert the transition.
type Notifier interface {
	BookingCreated(ctx context.Context, appt domain.Appointment) error
	StatusChanged(ctx context.Context, appt domain.Appointment) error
	RescheduleRequested(ctx context.Context, appt domain.Appointment) error
	RescheduleResolved(ctx context.Context, appt domain.Appointment) error
}

// PaymentRecorder is invoked after an acceptance commits. It only produces
// payment metadata; it never gates the scheduling state machine.
type PaymentRecorder interface {
	RecordAcceptance(ctx context.Context, appt domain.Appointment) error
}

// LogNotifier is the default Notifier: it records each event in the log and
// leaves delivery to the surrounding system.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With(slog.String("component", "scheduling.notifier"))}
}

func (n *LogNotifier) BookingCreated(ctx context.Context, appt domain.Appointment) error {
	n.event("booking_created", appt)
	return nil
}

func (n *LogNotifier) StatusChanged(ctx context.Context, appt domain.Appointment) error {
	n.event("status_changed", appt)
	return nil
}

func (n *LogNotifier) RescheduleRequested(ctx context.Context, appt domain.Appointment) error {
	n.event("reschedule_requested", appt)
	return nil
}

func (n *LogNotifier) RescheduleResolved(ctx context.Context, appt domain.Appointment) error {
	n.event("reschedule_resolved", appt)
	return nil
}

func (n *LogNotifier) event(name string, appt domain.Appointment) {
	n.log.Info(
		name,
		slog.String("appointment_id", appt.ID.String()),
		slog.String("provider_id", appt.ProviderID),
		slog.String("client_id", appt.ClientID),
		slog.String("status", string(appt.Status)),
		slog.Time("scheduled_to", appt.ScheduledTo),
	)
}

// NopPaymentRecorder satisfies PaymentRecorder for deployments without a
// payment collaborator.
type NopPaymentRecorder struct{}

func (NopPaymentRecorder) RecordAcceptance(ctx context.Context, appt domain.Appointment) error {
	return nil
}
