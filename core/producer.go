package core

// Producer is the long-lived block-production scheduler: at fixed
// wall-clock intervals it acquires exclusive access to Consensus and
// invokes ProduceBlock, logging and continuing on every outcome except
// NotValidator, which is silent (this node simply isn't authoring in this
// round).

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// Producer drives periodic block production until its context is canceled.
type Producer struct {
	consensus *Consensus
	interval  time.Duration
	log       *log.Logger
}

// NewProducer builds a Producer that calls consensus.ProduceBlock every
// interval.
func NewProducer(consensus *Consensus, interval time.Duration) *Producer {
	return &Producer{consensus: consensus, interval: interval, log: log.StandardLogger()}
}

// Run blocks until ctx is canceled, producing a block on every tick. Unlike
// the reference design this loop honors cancellation rather than running
// until process termination.
func (p *Producer) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("block producer stopping")
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Producer) tick() {
	block, err := p.consensus.ProduceBlock()
	switch {
	case err == nil:
		p.log.WithFields(log.Fields{"height": block.Header.Height}).Info("produced block")
	case errors.Is(err, ErrNotValidator):
		// silent: this node is not authoring in this round
	default:
		p.log.WithError(err).Warn("block production failed")
	}
}
