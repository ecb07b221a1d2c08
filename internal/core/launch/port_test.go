package launch

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePort(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr error
	}{
		{name: "platform default", raw: "8080", want: 8080},
		{name: "low port", raw: "1", want: 1},
		{name: "highest port", raw: "65535", want: 65535},
		{name: "surrounding whitespace", raw: " 9000 ", want: 9000},
		{name: "unset", raw: "", wantErr: ErrPortUnset},
		{name: "blank", raw: "   ", wantErr: ErrPortUnset},
		{name: "zero", raw: "0", wantErr: ErrPortInvalid},
		{name: "negative", raw: "-1", wantErr: ErrPortInvalid},
		{name: "too large", raw: "70000", wantErr: ErrPortInvalid},
		{name: "not a number", raw: "abc", wantErr: ErrPortInvalid},
		{name: "host and port", raw: "0.0.0.0:8080", wantErr: ErrPortInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePort(tt.raw)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolvePort_EchoesEveryValidPort(t *testing.T) {
	for _, port := range []int{80, 443, 3000, 8000, 8080, 32768, 65000} {
		got, err := ResolvePort(strconv.Itoa(port))
		require.NoError(t, err)
		assert.Equal(t, port, got)
	}
}

func TestBindAddress(t *testing.T) {
	assert.Equal(t, "0.0.0.0:8080", BindAddress("", 8080))
	assert.Equal(t, "0.0.0.0:8080", BindAddress(DefaultHost, 8080))
	assert.Equal(t, "127.0.0.1:3000", BindAddress("127.0.0.1", 3000))
	assert.Equal(t, "[::1]:9000", BindAddress("::1", 9000))
}
