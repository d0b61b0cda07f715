package state

import (
	"context"
)

const (
	CurrentTenantID = "CurrentTenantID"
	CurrentUserIP   = "CurrentIP"
)

// CurrentTenant returns the tenant id the request was authenticated for.
func CurrentTenant(ctx context.Context) string {
	value := ctx.Value(CurrentTenantID)
	if value == nil {
		return ""
	}

	tenantID, ok := value.(string)
	if !ok {
		return ""
	}

	return tenantID
}

func SetCurrentTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, CurrentTenantID, tenantID)
}
