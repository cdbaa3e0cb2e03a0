package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/carebridge/portal/internal/domain/consent"
	"github.com/carebridge/portal/internal/domain/notification"
	"github.com/carebridge/portal/internal/domain/records"
)

// portalNotifier adapts the notification service to the Notifier
// interfaces the consent and records packages declare, avoiding circular
// imports between the domains.
type portalNotifier struct {
	svc *notification.Service
}

func newPortalNotifier(svc *notification.Service) *portalNotifier {
	return &portalNotifier{svc: svc}
}

// NotifyConsent implements consent.Notifier.
func (n *portalNotifier) NotifyConsent(ctx context.Context, event, recipientID string, req *consent.ConsentRequest) error {
	var title, body string
	switch event {
	case consent.EventRequested:
		title = "New consent request"
		body = fmt.Sprintf("%s requests access to your %s for: %s",
			req.RequesterName, joinDataTypes(req.RequestedDataTypes), req.Purpose)
	case consent.EventApproved:
		title = "Consent approved"
		body = fmt.Sprintf("The patient approved your access to %s",
			joinDataTypes(req.GrantedDataTypes))
	case consent.EventDenied:
		title = "Consent denied"
		body = "The patient denied your consent request"
	case consent.EventRevoked:
		title = "Consent revoked"
		body = "The patient revoked your access"
	default:
		return fmt.Errorf("unknown consent event %q", event)
	}

	_, err := n.svc.Create(ctx, recipientID, notification.Type(event), title, body,
		map[string]string{"consent_id": req.ID.String()})
	return err
}

// NotifyRecord implements records.Notifier.
func (n *portalNotifier) NotifyRecord(ctx context.Context, event, recipientID string, rec *records.HealthRecord) error {
	var title, body string
	switch event {
	case records.EventUploaded:
		title = "New health record"
		body = fmt.Sprintf("%q was added to your chart", rec.Title)
	case records.EventPrescriptionCreated:
		title = "New prescription"
		body = fmt.Sprintf("A prescription %q was issued for you", rec.Title)
	case records.EventPrescriptionUpdated:
		title = "Prescription updated"
		body = fmt.Sprintf("Your prescription %q was updated", rec.Title)
	case records.EventAccessDenied:
		title = "Record access attempt blocked"
		body = fmt.Sprintf("An access attempt on %q was refused for lack of consent", rec.Title)
	default:
		return fmt.Errorf("unknown record event %q", event)
	}

	_, err := n.svc.Create(ctx, recipientID, notification.Type(event), title, body,
		map[string]string{"record_id": rec.ID.String()})
	return err
}

func joinDataTypes(types []consent.DataType) string {
	if len(types) == 0 {
		return "health data"
	}
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = strings.ReplaceAll(string(t), "_", " ")
	}
	return strings.Join(parts, ", ")
}
