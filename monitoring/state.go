package monitoring

import (
	"encoding/json"

	"github.com/sarchlab/pfsim/timing/prefetch"
	"github.com/sarchlab/pfsim/timing/prefetch/ampm"
	"github.com/sarchlab/pfsim/timing/prefetch/isb"
)

// engineState is what the prefetcher dump walks. It only holds scalars,
// slices and maps; the serializer cannot walk fixed-size arrays.
type engineState struct {
	Kind     string
	Degree   int
	Counters map[string]any
	Tables   map[string]int
}

func stateOf(p prefetch.Prefetcher) (engineState, error) {
	switch p := p.(type) {
	case *isb.Prefetcher:
		counters, err := countersOf(p.Stats())
		if err != nil {
			return engineState{}, err
		}

		return engineState{
			Kind:     string(prefetch.KindISB),
			Degree:   p.Degree(),
			Counters: counters,
			Tables: map[string]int{
				"lookahead":          p.Lookahead(),
				"training_unit":      p.TrainingUnit().Len(),
				"prefetch_buffer":    p.PrefetchBuffer().Len(),
				"correlation_matrix": p.CorrelationMatrix().Len(),
			},
		}, nil
	case *ampm.Prefetcher:
		counters, err := countersOf(p.Stats())
		if err != nil {
			return engineState{}, err
		}

		return engineState{
			Kind:     string(prefetch.KindAMPM),
			Degree:   p.Degree(),
			Counters: counters,
			Tables: map[string]int{
				"zones":   p.Table().Len(),
				"tracker": p.Tracker().Len(),
			},
		}, nil
	}

	return engineState{Kind: string(prefetch.KindNone)}, nil
}

// countersOf flattens a stats struct into maps and slices. Arrays become
// slices on the way through JSON.
func countersOf(stats any) (map[string]any, error) {
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}

	counters := map[string]any{}
	if err := json.Unmarshal(data, &counters); err != nil {
		return nil, err
	}

	return counters, nil
}
