package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Guarded wraps a remote provider with a request-rate limiter and a circuit
// breaker. The breaker opens after a run of failures and fails fast until its
// timeout elapses, which the manager treats as a transient error and fails over.
type Guarded struct {
	name    string
	llm     LLMProvider
	embed   EmbeddingProvider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

type GuardOptions struct {
	RequestsPerMinute int
	BreakerTimeout    time.Duration
}

func NewGuarded(name string, p any, opts GuardOptions) *Guarded {
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = 120
	}
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	timeout := opts.BreakerTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	g := &Guarded{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 2,
			Interval:    30 * time.Second,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Default().Warn("provider breaker state change", "provider", name, "from", from.String(), "to", to.String())
			},
		}),
	}
	if l, ok := p.(LLMProvider); ok {
		g.llm = l
	}
	if e, ok := p.(EmbeddingProvider); ok {
		g.embed = e
	}
	return g
}

func (g *Guarded) SupportsLLM() bool   { return g.llm != nil }
func (g *Guarded) SupportsEmbed() bool { return g.embed != nil }

func (g *Guarded) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return GenerateResponse{}, ProviderInfo{Name: g.name}, err
	}
	var info ProviderInfo
	out, err := g.breaker.Execute(func() (interface{}, error) {
		resp, i, err := g.llm.Generate(ctx, req)
		info = i
		return resp, err
	})
	if err != nil {
		if info.Name == "" {
			info.Name = g.name
		}
		return GenerateResponse{}, info, err
	}
	return out.(GenerateResponse), info, nil
}

func (g *Guarded) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, ProviderInfo{Name: g.name}, err
	}
	var info ProviderInfo
	out, err := g.breaker.Execute(func() (interface{}, error) {
		vecs, i, err := g.embed.Embed(ctx, req)
		info = i
		return vecs, err
	})
	if err != nil {
		if info.Name == "" {
			info.Name = g.name
		}
		return nil, info, err
	}
	return out.([][]float32), info, nil
}
