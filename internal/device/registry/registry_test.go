package registry

import (
	"os"
	"path/filepath"
	"testing"

	devicedomain "github.com/smallbiznis/netmetering/internal/device/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolve(t *testing.T) {
	reg, err := NewStatic([]devicedomain.Registration{
		{DeviceToken: " tok-1 ", DeviceID: "meter-1", ApplicationID: "app-1", CustomerID: "cust-1", Secret: "s3cret"},
	})
	require.NoError(t, err)

	got, ok := reg.Resolve("tok-1")
	require.True(t, ok)
	assert.Equal(t, "cust-1", got.CustomerID)
	assert.Equal(t, "meter-1", got.DeviceID)

	_, ok = reg.Resolve("unknown")
	assert.False(t, ok)
	_, ok = reg.Resolve("")
	assert.False(t, ok)
}

func TestStaticRejectsInvalidRegistrations(t *testing.T) {
	tests := []struct {
		name string
		regs []devicedomain.Registration
		want error
	}{
		{
			name: "blank token",
			regs: []devicedomain.Registration{{CustomerID: "c", Secret: "s"}},
			want: devicedomain.ErrEmptyToken,
		},
		{
			name: "missing secret",
			regs: []devicedomain.Registration{{DeviceToken: "t", CustomerID: "c"}},
			want: devicedomain.ErrMissingSecret,
		},
		{
			name: "missing customer",
			regs: []devicedomain.Registration{{DeviceToken: "t", Secret: "s"}},
			want: devicedomain.ErrMissingOwner,
		},
		{
			name: "duplicate token",
			regs: []devicedomain.Registration{
				{DeviceToken: "t", CustomerID: "c", Secret: "s"},
				{DeviceToken: "t", CustomerID: "d", Secret: "s"},
			},
			want: devicedomain.ErrDuplicateToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStatic(tt.regs)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yml")
	content := `devices:
  - token: dev-token-001
    deviceId: INV-001
    applicationId: APP-2024-001
    customerId: CUST-001
    secret: supersecret
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	regs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "dev-token-001", regs[0].DeviceToken)
	assert.Equal(t, "APP-2024-001", regs[0].ApplicationID)
	assert.Equal(t, "supersecret", regs[0].Secret)
}
