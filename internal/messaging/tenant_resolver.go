package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrTenantNotFound is returned when we can't map a clinic number to a tenant.
var ErrTenantNotFound = errors.New("messaging: tenant not found for number")

// TenantResolver resolves the clinic that owns a destination number.
type TenantResolver interface {
	ResolveTenantID(ctx context.Context, toNumber string) (string, error)
}

// StaticTenantResolver maps sanitized phone numbers to tenant IDs.
type StaticTenantResolver struct {
	mapping  map[string]string
	defaults map[string]string
}

// NewStaticTenantResolver constructs a resolver backed by an in-memory map
// of clinic number to tenant ID.
func NewStaticTenantResolver(mapping map[string]string) *StaticTenantResolver {
	normalized := make(map[string]string, len(mapping))
	defaults := make(map[string]string)
	for raw, tenant := range mapping {
		clean := sanitizePhone(raw)
		tenant = strings.TrimSpace(tenant)
		if clean == "" || tenant == "" {
			continue
		}
		normalized[clean] = tenant
		if _, ok := defaults[tenant]; !ok {
			defaults[tenant] = NormalizeE164(raw)
		}
	}
	return &StaticTenantResolver{mapping: normalized, defaults: defaults}
}

// ParseTenantNumberMap reads TENANT_NUMBER_MAP_JSON, e.g.
// {"+15550001000":"bright-smile"}. An empty string yields an empty map.
func ParseTenantNumberMap(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]string{}, nil
	}
	var mapping map[string]string
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		return nil, fmt.Errorf("messaging: parse tenant number map: %w", err)
	}
	return mapping, nil
}

// ResolveTenantID implements TenantResolver.
func (r *StaticTenantResolver) ResolveTenantID(_ context.Context, toNumber string) (string, error) {
	if r == nil {
		return "", ErrTenantNotFound
	}
	key := sanitizePhone(toNumber)
	if key == "" {
		return "", ErrTenantNotFound
	}
	tenant, ok := r.mapping[key]
	if !ok && len(key) == 10 {
		tenant, ok = r.mapping["1"+key]
	}
	if !ok {
		return "", ErrTenantNotFound
	}
	return tenant, nil
}

// DefaultFromNumber returns the sending number for the tenant.
func (r *StaticTenantResolver) DefaultFromNumber(tenantID string) string {
	if r == nil {
		return ""
	}
	return r.defaults[tenantID]
}
