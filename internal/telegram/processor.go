package telegram

import (
	"context"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/rs/zerolog"

	"threadbot/internal/dedupe"
	"threadbot/internal/metrics"
)

// Processor counts updates and drops redelivered ones before dispatch.
type Processor struct {
	Base    ext.BaseProcessor
	Dedupe  *dedupe.UpdateDeduplicator
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

func (p Processor) ProcessUpdate(d *ext.Dispatcher, b *gotgbot.Bot, ctx *ext.Context) error {
	if p.Metrics != nil {
		p.Metrics.UpdatesTotal.Inc()
	}
	if p.Dedupe != nil {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		first, err := p.Dedupe.MarkFirst(rctx, ctx.UpdateId)
		cancel()
		if err != nil {
			p.Logger.Error().Err(err).Int64("update_id", ctx.UpdateId).Msg("failed to dedupe update")
		} else if !first {
			if p.Metrics != nil {
				p.Metrics.DuplicateUpdates.Inc()
			}
			p.Logger.Debug().Int64("update_id", ctx.UpdateId).Msg("duplicate update dropped")
			return nil
		}
	}
	return p.Base.ProcessUpdate(d, b, ctx)
}
