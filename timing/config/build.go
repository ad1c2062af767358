package config

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/pfsim/timing/prefetch"
	"github.com/sarchlab/pfsim/timing/prefetch/ampm"
	"github.com/sarchlab/pfsim/timing/prefetch/isb"
	"github.com/sarchlab/pfsim/timing/tlb"
)

// BuildPrefetcher creates the engine the configuration selects, issuing its
// requests to sink.
func BuildPrefetcher(c *Config, sink prefetch.Sink) (prefetch.Prefetcher, error) {
	return BuildPrefetcherWithLogger(c, sink, logrus.StandardLogger())
}

// BuildPrefetcherWithLogger is BuildPrefetcher with an explicit logger for
// engine debug events.
func BuildPrefetcherWithLogger(
	c *Config,
	sink prefetch.Sink,
	logger logrus.FieldLogger,
) (prefetch.Prefetcher, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch c.Prefetcher {
	case prefetch.KindISB:
		return c.buildISB(sink, logger), nil
	case prefetch.KindAMPM:
		return c.buildAMPM(sink, logger), nil
	case prefetch.KindNone, "":
		return prefetch.Nop{}, nil
	}

	return nil, fmt.Errorf("unknown prefetcher %q", c.Prefetcher)
}

func (c *Config) buildISB(sink prefetch.Sink, logger logrus.FieldLogger) *isb.Prefetcher {
	ps := isb.PSGeometry()
	ps.Sets = c.ISB.AMCSets
	ps.Ways = c.ISB.AMCWays

	sp := isb.SPGeometry()
	sp.Sets = c.ISB.AMCSets
	sp.Ways = c.ISB.AMCWays

	return isb.MakeBuilder().
		WithDegree(c.ISB.Degree).
		WithLookahead(c.ISB.Lookahead).
		WithTrainingUnitSize(c.ISB.TrainingUnitSize).
		WithAMCGeometry(ps, sp).
		WithMetadataRegion(c.ISB.MetadataBase, c.ISB.MetadataStride).
		WithLogger(logger).
		Build(sink)
}

func (c *Config) buildAMPM(sink prefetch.Sink, logger logrus.FieldLogger) *ampm.Prefetcher {
	return ampm.New(sink,
		ampm.WithDegree(c.AMPM.Degree),
		ampm.WithTableGeometry(c.AMPM.Sets, c.AMPM.Ways),
		ampm.WithTrackerSize(c.AMPM.TrackerSize),
		ampm.WithAdaptiveModes(c.AMPM.AdaptiveModes),
		ampm.WithModeEpoch(c.AMPM.ModeEpoch),
		ampm.WithLogger(logger),
	)
}

// BuildTLB creates the TLB the configuration describes.
func BuildTLB(c *Config) *tlb.TLB {
	return tlb.MakeBuilder().
		WithNumSets(c.TLB.Sets).
		WithNumWays(c.TLB.Ways).
		Build()
}
