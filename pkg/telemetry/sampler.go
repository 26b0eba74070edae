package telemetry

import (
	"strconv"

	"go.opentelemetry.io/otel/sdk/trace"
)

// samplers maps OTEL_TRACES_SAMPLER names to constructors taking the
// parsed sampler argument.
var samplers = map[string]func(ratio float64) trace.Sampler{
	"always_on":  func(float64) trace.Sampler { return trace.AlwaysSample() },
	"always_off": func(float64) trace.Sampler { return trace.NeverSample() },
	"traceidratio": func(r float64) trace.Sampler {
		return trace.TraceIDRatioBased(r)
	},
	"parentbased_always_on": func(float64) trace.Sampler {
		return trace.ParentBased(trace.AlwaysSample())
	},
	"parentbased_always_off": func(float64) trace.Sampler {
		return trace.ParentBased(trace.NeverSample())
	},
	"parentbased_traceidratio": func(r float64) trace.Sampler {
		return trace.ParentBased(trace.TraceIDRatioBased(r))
	},
}

// newSampler falls back to always_on for unknown names.
func newSampler(cfg *Config) trace.Sampler {
	build, ok := samplers[cfg.Sampler]
	if !ok {
		build = samplers["always_on"]
	}
	return build(parseRatio(cfg.SamplerArg))
}

// parseRatio clamps to [0, 1]; garbage means 1.
func parseRatio(s string) float64 {
	r, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 1
	}
	return min(max(r, 0), 1)
}
