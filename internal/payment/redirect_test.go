package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedirector_Validation(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		wantErr bool
	}{
		{name: "https", base: "https://pagos.example.com/qr"},
		{name: "http", base: "http://localhost:9000"},
		{name: "relative", base: "/pagos", wantErr: true},
		{name: "ftp", base: "ftp://pagos.example.com", wantErr: true},
		{name: "garbage", base: "://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRedirector(tt.base)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestHandoff(t *testing.T) {
	r, err := NewRedirector("https://pagos.example.com/qr/")
	require.NoError(t, err)

	location, err := r.Handoff(context.Background(), "0b7e6c1a-1f7e-4a57-9f83-3f1c7e2d4b10")
	require.NoError(t, err)
	assert.Equal(t, "https://pagos.example.com/qr/0b7e6c1a-1f7e-4a57-9f83-3f1c7e2d4b10", location)

	_, err = r.Handoff(context.Background(), "")
	require.Error(t, err)
}
