package services

import (
	"club-system/models"
	"context"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go/v7"
)

// StateNotifier pushes session state transitions to whoever renders them.
type StateNotifier interface {
	NotifyStateChange(ctx context.Context, snap models.SessionSnapshot)
}

// PubNubNotifier publishes session transitions to the member's realtime
// channel so the dashboard can react without polling this service.
type PubNubNotifier struct {
	pn *pubnub.PubNub
}

func NewPubNubNotifier(pn *pubnub.PubNub) *PubNubNotifier {
	return &PubNubNotifier{pn: pn}
}

func (n *PubNubNotifier) NotifyStateChange(_ context.Context, snap models.SessionSnapshot) {
	if n == nil || n.pn == nil {
		return
	}

	message := map[string]any{
		"type":       "payment_state",
		"session_id": snap.SessionID,
		"state":      string(snap.State),
	}
	if snap.ReceiptURL != "" {
		message["receipt_url"] = snap.ReceiptURL
	}
	if snap.Failure != nil {
		message["failure_kind"] = string(snap.Failure.Kind)
		message["failure_message"] = snap.Failure.Message
	}

	channel := fmt.Sprintf("member-%s", snap.MemberID)
	if _, _, err := n.pn.Publish().Channel(channel).Message(message).Execute(); err != nil {
		slog.Error("notifier: publish state change", "channel", channel, "session_id", snap.SessionID, "error", err)
	}
}

// NoopNotifier is used when realtime keys are not configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyStateChange(context.Context, models.SessionSnapshot) {}
