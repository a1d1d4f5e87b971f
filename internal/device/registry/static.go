package registry

import (
	"fmt"
	"strings"

	devicedomain "github.com/smallbiznis/netmetering/internal/device/domain"
)

type static struct {
	byToken map[string]devicedomain.Registration
}

// NewStatic builds an immutable registry from the given registrations.
func NewStatic(registrations []devicedomain.Registration) (devicedomain.Registry, error) {
	byToken := make(map[string]devicedomain.Registration, len(registrations))
	for i, reg := range registrations {
		reg.DeviceToken = strings.TrimSpace(reg.DeviceToken)
		reg.DeviceID = strings.TrimSpace(reg.DeviceID)
		reg.ApplicationID = strings.TrimSpace(reg.ApplicationID)
		reg.CustomerID = strings.TrimSpace(reg.CustomerID)

		switch {
		case reg.DeviceToken == "":
			return nil, fmt.Errorf("device %d: %w", i, devicedomain.ErrEmptyToken)
		case reg.Secret == "":
			return nil, fmt.Errorf("device %s: %w", reg.DeviceID, devicedomain.ErrMissingSecret)
		case reg.CustomerID == "":
			return nil, fmt.Errorf("device %s: %w", reg.DeviceID, devicedomain.ErrMissingOwner)
		}
		if _, exists := byToken[reg.DeviceToken]; exists {
			return nil, fmt.Errorf("device %s: %w", reg.DeviceID, devicedomain.ErrDuplicateToken)
		}
		byToken[reg.DeviceToken] = reg
	}
	return &static{byToken: byToken}, nil
}

func (s *static) Resolve(token string) (devicedomain.Registration, bool) {
	if s == nil || token == "" {
		return devicedomain.Registration{}, false
	}
	reg, ok := s.byToken[token]
	return reg, ok
}
