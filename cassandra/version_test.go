package cassandra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeFunction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		versions []string
		want     string
		wantErr  bool
	}{
		{name: "modern cluster", versions: []string{"4.1.3", "4.0.11"}, want: timeFuncToTimestamp},
		{name: "exactly 2.2", versions: []string{"2.2.0"}, want: timeFuncToTimestamp},
		{name: "one old peer", versions: []string{"3.11.4", "2.1.22", "4.0.0"}, want: timeFuncDateOf},
		{name: "pre-release of 2.2", versions: []string{"2.2.0-beta1"}, want: timeFuncDateOf},
		{name: "blank entries ignored", versions: []string{"", " 3.0.29 "}, want: timeFuncToTimestamp},
		{name: "no versions", versions: nil, wantErr: true},
		{name: "garbage", versions: []string{"not-a-version"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := timeFunction(tt.versions)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLowestVersion(t *testing.T) {
	t.Parallel()
	v, err := lowestVersion([]string{"4.0.1", "3.11.10", "3.11.9"})
	require.NoError(t, err)
	assert.Equal(t, "3.11.9", v.String())
}
