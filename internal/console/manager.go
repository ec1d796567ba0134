package console

import (
	"context"
	"fmt"

	"uolems/internal/docstore"
	"uolems/internal/metrics"
	"uolems/internal/model"
)

type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyWarning NotificationKind = "warning"
	NotifyError   NotificationKind = "error"
)

type Notification struct {
	Message string           `json:"message"`
	Kind    NotificationKind `json:"kind"`
}

// ToggleManager writes isManager = !current on users/uid. The caller's view
// is not touched; the flag is observed through the next live snapshot.
func ToggleManager(ctx context.Context, store docstore.Store, uid string, current bool, name string) (Notification, error) {
	err := store.Update(ctx, model.CollectionUsers, uid, map[string]any{model.FieldIsManager: !current})
	if err != nil {
		metrics.ManagerToggles.WithLabelValues("error").Inc()
		return Notification{Message: fmt.Sprintf("Error: %v", err), Kind: NotifyError}, err
	}
	if current {
		metrics.ManagerToggles.WithLabelValues("removed").Inc()
		return Notification{Message: fmt.Sprintf("%s removed from Manager.", name), Kind: NotifyWarning}, nil
	}
	metrics.ManagerToggles.WithLabelValues("promoted").Inc()
	return Notification{Message: fmt.Sprintf("%s promoted to Manager!", name), Kind: NotifySuccess}, nil
}
