package isb

import (
	"log"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/pfsim/timing/prefetch"
	"github.com/sarchlab/pfsim/timing/prefetch/assoc"
)

// Default engine parameters.
const (
	DefaultDegree    = 1
	DefaultLookahead = 1
)

// Builder can build ISB prefetchers.
type Builder struct {
	degree           int
	lookahead        int
	trainingUnitSize int
	psGeometry       assoc.Geometry
	spGeometry       assoc.Geometry
	metadataBase     uint64
	metadataStride   uint64
	logger           logrus.FieldLogger
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		degree:           DefaultDegree,
		lookahead:        DefaultLookahead,
		trainingUnitSize: TrainingUnitSize,
		psGeometry:       PSGeometry(),
		spGeometry:       SPGeometry(),
		metadataBase:     DefaultMetadataBase,
		metadataStride:   DefaultMetadataStride,
	}
}

// WithDegree sets the maximum number of candidates issued per trigger.
func (b Builder) WithDegree(degree int) Builder {
	b.degree = degree
	return b
}

// WithLookahead sets the structural distance of the first candidate.
func (b Builder) WithLookahead(lookahead int) Builder {
	b.lookahead = lookahead
	return b
}

// WithTrainingUnitSize sets the number of training keys tracked.
func (b Builder) WithTrainingUnitSize(size int) Builder {
	b.trainingUnitSize = size
	return b
}

// WithAMCGeometry sets the shape of the two AMC halves.
func (b Builder) WithAMCGeometry(ps, sp assoc.Geometry) Builder {
	b.psGeometry = ps
	b.spGeometry = sp
	return b
}

// WithMetadataRegion places correlation matrix entries at base + slot*stride.
func (b Builder) WithMetadataRegion(base, stride uint64) Builder {
	b.metadataBase = base
	b.metadataStride = stride
	return b
}

// WithLogger sets the logger debug events go to.
func (b Builder) WithLogger(logger logrus.FieldLogger) Builder {
	b.logger = logger
	return b
}

// Build creates an ISB prefetcher that issues requests to sink.
func (b Builder) Build(sink prefetch.Sink) *Prefetcher {
	if sink == nil {
		log.Panic("isb: sink is required")
	}

	if b.degree < 1 || b.lookahead < 1 {
		log.Panicf("isb: degree %d and lookahead %d must be positive",
			b.degree, b.lookahead)
	}

	if b.degree+b.lookahead > StreamLength {
		log.Panicf("isb: degree+lookahead %d exceeds the stream length",
			b.degree+b.lookahead)
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Prefetcher{
		Emitter:      prefetch.NewEmitter(sink),
		degree:       b.degree,
		lookahead:    b.lookahead,
		trainingUnit: NewTrainingUnit(b.trainingUnitSize),
		amc:          NewAddressMappingCache(b.psGeometry, b.spGeometry),
		encoder:      NewAddressEncoder(),
		corrMatrix:   NewCorrelationMatrix(b.metadataBase, b.metadataStride),
		logger:       logger,
	}
}
