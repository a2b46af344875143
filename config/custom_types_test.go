/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestByteSize_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		yaml    string
		want    ByteSize
		wantErr bool
	}{
		{name: "integer", json: `1024`, yaml: "size: 1024", want: 1024},
		{name: "human-readable", json: `"10MB"`, yaml: "size: 10MB", want: 10 * 1024 * 1024},
		{name: "k8s suffix", json: `"512Ki"`, yaml: "size: 512Ki", want: 512 * 1024},
		{name: "negative", json: `"-1"`, yaml: "size: -1", wantErr: true},
		{name: "garbage", json: `"lots"`, yaml: "size: lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b ByteSize
			err := json.Unmarshal([]byte(tt.json), &b)
			var cfg struct{ Size ByteSize }
			yamlErr := yaml.Unmarshal([]byte(tt.yaml), &cfg)
			if tt.wantErr {
				require.Error(t, err)
				require.Error(t, yamlErr)
				return
			}
			require.NoError(t, err)
			require.NoError(t, yamlErr)
			require.Equal(t, tt.want, b)
			require.Equal(t, tt.want, cfg.Size)
		})
	}
}

func TestByteSize_Marshal(t *testing.T) {
	data, err := json.Marshal(ByteSize(1024 * 1024))
	require.NoError(t, err)
	require.Equal(t, `"1M"`, string(data))
}

func TestTimeDuration_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		yaml    string
		want    TimeDuration
		wantErr bool
	}{
		{name: "nanoseconds", json: `1000000000`, yaml: "d: 1000000000", want: TimeDuration(time.Second)},
		{name: "duration string", json: `"1m30s"`, yaml: "d: 1m30s", want: TimeDuration(90 * time.Second)},
		{name: "negative", json: `"-5s"`, yaml: "d: -5s", wantErr: true},
		{name: "garbage", json: `"soon"`, yaml: "d: soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d TimeDuration
			err := json.Unmarshal([]byte(tt.json), &d)
			var cfg struct{ D TimeDuration }
			yamlErr := yaml.Unmarshal([]byte(tt.yaml), &cfg)
			if tt.wantErr {
				require.Error(t, err)
				require.Error(t, yamlErr)
				return
			}
			require.NoError(t, err)
			require.NoError(t, yamlErr)
			require.Equal(t, tt.want, d)
			require.Equal(t, tt.want, cfg.D)
		})
	}
}
