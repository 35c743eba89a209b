package telemetry

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel/propagation"
)

// Environment variables carrying trace context into child processes.
const (
	EnvTraceParent = "TRACEPARENT"
	EnvTraceState  = "TRACESTATE"
	EnvBaggage     = "BAGGAGE"
)

// Environ returns KEY=VALUE pairs that carry ctx's span context to a child
// process. It is empty when ctx has no valid span.
func Environ(ctx context.Context) []string {
	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)

	var env []string
	for key, value := range carrier {
		if value == "" {
			continue
		}
		env = append(env, strings.ToUpper(key)+"="+value)
	}
	return env
}

// FromEnviron returns ctx extended with the remote span context found in the
// process environment, if any.
func FromEnviron(ctx context.Context) context.Context {
	return FromEnv(ctx, os.Getenv)
}

// FromEnv is FromEnviron with an explicit lookup function.
func FromEnv(ctx context.Context, getenv func(string) string) context.Context {
	carrier := propagation.MapCarrier{}
	for _, name := range []string{EnvTraceParent, EnvTraceState, EnvBaggage} {
		if v := getenv(name); v != "" {
			carrier.Set(strings.ToLower(name), v)
		}
	}
	if len(carrier) == 0 {
		return ctx
	}
	return propagator.Extract(ctx, carrier)
}
