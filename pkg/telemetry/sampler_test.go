package telemetry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSampler(t *testing.T) {
	tests := []struct {
		sampler string
		arg     string
		prefix  string
	}{
		{"", "", "AlwaysOnSampler"},
		{"always_on", "", "AlwaysOnSampler"},
		{"always_off", "", "AlwaysOffSampler"},
		{"traceidratio", "0.5", "TraceIDRatioBased{0.5}"},
		{"traceidratio", "", "AlwaysOnSampler"},
		{"parentbased_always_on", "", "ParentBased{root:AlwaysOnSampler"},
		{"parentbased_always_off", "", "ParentBased{root:AlwaysOffSampler"},
		{"parentbased_traceidratio", "0.1", "ParentBased{root:TraceIDRatioBased{0.1}"},
		{"jaeger_remote", "", "AlwaysOnSampler"},
	}

	for _, tt := range tests {
		t.Run(tt.sampler+"/"+tt.arg, func(t *testing.T) {
			s := newSampler(&Config{Sampler: tt.sampler, SamplerArg: tt.arg})
			assert.Truef(t, strings.HasPrefix(s.Description(), tt.prefix),
				"description %q lacks prefix %q", s.Description(), tt.prefix)
		})
	}
}

func TestParseRatio(t *testing.T) {
	for in, want := range map[string]float64{
		"":      1,
		"0.5":   0.5,
		"0":     0,
		"1":     1,
		"0.001": 0.001,
		"half":  1,
		"-0.5":  0,
		"1.5":   1,
	} {
		assert.Equal(t, want, parseRatio(in), "input %q", in)
	}
}
