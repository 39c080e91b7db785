package generator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"ordersync/internal/bootstrap/logging"
	"ordersync/internal/domain/order"
	"ordersync/internal/errs"
	"ordersync/internal/ports"
)

var words = []string{
	"alpha", "harbour", "kiwi", "fern", "summit", "tide", "ridge", "canvas",
	"ember", "orbit", "quartz", "meadow", "signal", "lantern", "willow", "atlas",
}

// Zones the synthetic events carry. Both sit far enough from UTC that many
// events land on a different calendar date than their UTC instant.
var zones = []*time.Location{
	time.FixedZone("NZST", 12*60*60),
	time.FixedZone("NZDT", 13*60*60),
	time.FixedZone("HST", -10*60*60),
}

// Generator produces random but valid order events. All randomness comes from
// the injected source so runs are reproducible for a given seed.
type Generator struct {
	rng   *rand.Rand
	now   func() time.Time
	maxID int64
}

func New(rng *rand.Rand, maxID int64, now func() time.Time) *Generator {
	if maxID <= 0 {
		maxID = 5000
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{rng: rng, now: now, maxID: maxID}
}

// NewSeeded is New with a PCG source derived from seed.
func NewSeeded(seed uint64, maxID int64) *Generator {
	return New(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), maxID, nil)
}

func (g *Generator) Next() order.Event {
	statuses := order.Statuses()
	evt := order.Event{
		ID:      1 + g.rng.Int64N(g.maxID),
		Version: g.rng.Int64N(5),
		Name:    words[g.rng.IntN(len(words))],
		Status:  statuses[g.rng.IntN(len(statuses))],
	}

	// Roughly one in five events omits each optional field.
	if g.rng.IntN(5) != 0 {
		desc := g.sentence(6 + g.rng.IntN(10))
		evt.Description = &desc
	}
	if g.rng.IntN(5) != 0 {
		zone := zones[g.rng.IntN(len(zones))]
		at := g.now().Add(time.Duration(2+g.rng.IntN(57)) * time.Minute).In(zone).Truncate(time.Second)
		evt.EffectiveAt = &at
	}
	return evt
}

func (g *Generator) sentence(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = words[g.rng.IntN(len(words))]
	}
	s := strings.Join(parts, " ")
	return strings.ToUpper(s[:1]) + s[1:] + "."
}

// Payload encodes evt the way it travels on the broker.
func Payload(evt order.Event) ([]byte, error) {
	return json.Marshal(evt.Wire())
}

// Produce publishes count events keyed by order id, pausing interval between
// them. count <= 0 runs until ctx is done.
func (g *Generator) Produce(ctx context.Context, publisher ports.EventPublisher, count int, interval time.Duration) (int, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if publisher == nil {
		return 0, errors.New("event publisher is required")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "generator"))
	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	sent := 0
	for count <= 0 || sent < count {
		evt := g.Next()
		payload, err := Payload(evt)
		if err != nil {
			return sent, errs.Wrap(err, "encode event")
		}
		key := strconv.FormatInt(evt.ID, 10)
		if err := publisher.Publish(ctx, key, payload); err != nil {
			if ctx.Err() != nil {
				return sent, nil
			}
			return sent, errs.Wrapf(err, "publish event %s", key)
		}
		sent++
		logging.Debug(logCtx, "event published", slog.String("message_key", key), slog.Int64("version", evt.Version))

		if ticker == nil {
			if ctx.Err() != nil {
				return sent, nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return sent, nil
		case <-ticker.C:
		}
	}
	return sent, nil
}
