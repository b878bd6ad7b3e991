package stats

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/satcom-simulator/internal/logging"
	"github.com/signalsfoundry/satcom-simulator/model"
)

// IdentifierType selects how samples are grouped.
type IdentifierType int

const (
	IdentifierGlobal IdentifierType = iota
	IdentifierGw
	IdentifierBeam
	IdentifierUt
	IdentifierUtUser
)

func (t IdentifierType) String() string {
	switch t {
	case IdentifierGlobal:
		return "global"
	case IdentifierGw:
		return "gw"
	case IdentifierBeam:
		return "beam"
	case IdentifierUt:
		return "ut"
	case IdentifierUtUser:
		return "ut-user"
	default:
		return fmt.Sprintf("identifier(%d)", int(t))
	}
}

// OutputType is the requested presentation of a statistic. Everything other
// than OutputNone is exported as a Prometheus vector; the type only affects
// the metric name.
type OutputType int

const (
	OutputNone OutputType = iota
	OutputScalarFile
	OutputScatterFile
	OutputHistogramFile
	OutputPdfFile
	OutputCdfFile
	OutputScalarPlot
	OutputScatterPlot
	OutputHistogramPlot
	OutputPdfPlot
	OutputCdfPlot
)

var outputTypeNames = [...]string{
	OutputNone:          "none",
	OutputScalarFile:    "scalar-file",
	OutputScatterFile:   "scatter-file",
	OutputHistogramFile: "histogram-file",
	OutputPdfFile:       "pdf-file",
	OutputCdfFile:       "cdf-file",
	OutputScalarPlot:    "scalar-plot",
	OutputScatterPlot:   "scatter-plot",
	OutputHistogramPlot: "histogram-plot",
	OutputPdfPlot:       "pdf-plot",
	OutputCdfPlot:       "cdf-plot",
}

func (o OutputType) String() string {
	if o < 0 || int(o) >= len(outputTypeNames) {
		return fmt.Sprintf("output(%d)", int(o))
	}
	return outputTypeNames[o]
}

// ParseOutputType is the inverse of OutputType.String.
func ParseOutputType(s string) (OutputType, error) {
	for i, name := range outputTypeNames {
		if name == s {
			return OutputType(i), nil
		}
	}
	return OutputNone, fmt.Errorf("unknown output type %q", s)
}

// ValueKind is the shape of the recorded samples.
type ValueKind int

const (
	// DelayValue samples are durations in seconds, kept in a histogram.
	DelayValue ValueKind = iota
	// ThroughputValue samples are byte counts, kept in a counter.
	ThroughputValue
)

// Helper records one statistic. It is configured with the setters, then
// installed once; after installation the identifier and output types are
// frozen.
type Helper struct {
	name           string
	help           string
	kind           ValueKind
	identifierType IdentifierType
	outputType     OutputType
	installed      bool

	ids *IDMapper
	log logging.Logger

	counter   *prometheus.CounterVec
	histogram *prometheus.HistogramVec
}

// NewHelper returns a helper named "stat" that groups globally and writes a
// scatter file.
func NewHelper(ids *IDMapper, kind ValueKind, log logging.Logger) *Helper {
	if log == nil {
		log = logging.Noop()
	}
	return &Helper{
		name:           "stat",
		kind:           kind,
		identifierType: IdentifierGlobal,
		outputType:     OutputScatterFile,
		ids:            ids,
		log:            log,
	}
}

// SetName sets the helper name. Spaces and slashes become underscores.
func (h *Helper) SetName(name string) {
	h.name = strings.NewReplacer(" ", "_", "/", "_").Replace(name)
}

// Name returns the helper name.
func (h *Helper) Name() string { return h.name }

// SetHelp sets the Prometheus help text.
func (h *Helper) SetHelp(help string) { h.help = help }

// SetIdentifierType changes the grouping. It is ignored with a warning once
// the helper is installed.
func (h *Helper) SetIdentifierType(t IdentifierType) {
	if h.installed && h.identifierType != t {
		h.log.Warn(context.Background(), "cannot modify identifier type of an installed statistic",
			logging.String("stat", h.name),
			logging.String("identifier_type", h.identifierType.String()),
		)
		return
	}
	h.identifierType = t
}

// IdentifierType returns the grouping.
func (h *Helper) IdentifierType() IdentifierType { return h.identifierType }

// SetOutputType changes the output. It is ignored with a warning once the
// helper is installed.
func (h *Helper) SetOutputType(o OutputType) {
	if h.installed && h.outputType != o {
		h.log.Warn(context.Background(), "cannot modify output type of an installed statistic",
			logging.String("stat", h.name),
			logging.String("output_type", h.outputType.String()),
		)
		return
	}
	h.outputType = o
}

// OutputType returns the output.
func (h *Helper) OutputType() OutputType { return h.outputType }

// IsInstalled reports whether Install created the collector.
func (h *Helper) IsInstalled() bool { return h.installed }

// Install creates the Prometheus vector and one series per identifier known
// to the mapper. With OutputNone it logs a warning and does nothing.
func (h *Helper) Install(reg prometheus.Registerer) error {
	if h.outputType == OutputNone {
		h.log.Warn(context.Background(), "skipping statistics installation because output type is none",
			logging.String("stat", h.name))
		return nil
	}
	if h.installed {
		return nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	metric := metricName(h.name)
	help := h.help
	if help == "" {
		help = h.name
	}
	labels := []string{"identifier"}

	switch h.kind {
	case DelayValue:
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metric + "_seconds",
			Help:    help,
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, labels)
		if err := reg.Register(vec); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return fmt.Errorf("install %s: %w", h.name, err)
			}
			existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				return fmt.Errorf("install %s: collector already registered with incompatible type", h.name)
			}
			vec = existing
		}
		h.histogram = vec
	case ThroughputValue:
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metric + "_bytes_total",
			Help: help,
		}, labels)
		if err := reg.Register(vec); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return fmt.Errorf("install %s: %w", h.name, err)
			}
			existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return fmt.Errorf("install %s: collector already registered with incompatible type", h.name)
			}
			vec = existing
		}
		h.counter = vec
	default:
		return fmt.Errorf("install %s: unknown value kind %d", h.name, h.kind)
	}

	ids := h.identifiers()
	for _, id := range ids {
		h.touch(id)
	}
	h.installed = true
	h.log.Info(context.Background(), "installed statistic",
		logging.String("stat", h.name),
		logging.String("identifier_type", h.identifierType.String()),
		logging.Int("instances", len(ids)),
	)
	return nil
}

// identifiers lists the ids that get a series at install time.
func (h *Helper) identifiers() []uint32 {
	switch h.identifierType {
	case IdentifierGlobal:
		return []uint32{0}
	case IdentifierGw:
		return h.ids.GwIDs()
	case IdentifierBeam:
		return h.ids.BeamIDs()
	case IdentifierUt:
		return h.ids.UtIDs()
	case IdentifierUtUser:
		return h.ids.UtUserIDs()
	default:
		return nil
	}
}

// CollectorName returns the label value used for identifier id, for
// example "global", "beam-2" or "ut-user-7".
func (h *Helper) CollectorName(id uint32) string {
	if h.identifierType == IdentifierGlobal {
		return "global"
	}
	return fmt.Sprintf("%s-%d", h.identifierType, id)
}

// touch creates the series for id so it is exported before the first sample.
func (h *Helper) touch(id uint32) {
	if h.histogram != nil {
		h.histogram.WithLabelValues(h.CollectorName(id))
		return
	}
	h.counter.WithLabelValues(h.CollectorName(id))
}

// Record adds a sample for identifier id. It is a no-op before Install.
func (h *Helper) Record(id uint32, value float64) {
	if !h.installed {
		return
	}
	switch {
	case h.histogram != nil:
		h.histogram.WithLabelValues(h.CollectorName(id)).Observe(value)
	case h.counter != nil:
		h.counter.WithLabelValues(h.CollectorName(id)).Add(value)
	}
}

// IdentifierForUt returns the identifier a terminal's samples are grouped
// under. UT user grouping is invalid for a terminal and yields 0.
func (h *Helper) IdentifierForUt(ut model.Address) uint32 {
	ctx := context.Background()
	switch h.identifierType {
	case IdentifierGlobal:
		return 0
	case IdentifierGw:
		beam, ok := h.ids.BeamOfUt(ut)
		if !ok {
			h.log.Warn(ctx, "terminal is not attached to any beam", logging.String("ut", ut.String()))
			return 0
		}
		return h.IdentifierForBeam(beam)
	case IdentifierBeam:
		beam, ok := h.ids.BeamOfUt(ut)
		if !ok {
			h.log.Warn(ctx, "terminal is not attached to any beam", logging.String("ut", ut.String()))
			return 0
		}
		return beam
	case IdentifierUt:
		id, ok := h.ids.UtID(ut)
		if !ok {
			h.log.Warn(ctx, "terminal is not in the id mapper", logging.String("ut", ut.String()))
			return 0
		}
		return id
	default:
		h.log.Warn(ctx, "identifier type is not valid for a terminal, using 0",
			logging.String("identifier_type", h.identifierType.String()))
		return 0
	}
}

// IdentifierForUtUser returns the identifier a user's samples are grouped
// under.
func (h *Helper) IdentifierForUtUser(user model.Address) uint32 {
	switch h.identifierType {
	case IdentifierGlobal:
		return 0
	case IdentifierUtUser:
		id, ok := h.ids.UtUserID(user)
		if !ok {
			h.log.Warn(context.Background(), "user is not in the id mapper", logging.String("user", user.String()))
			return 0
		}
		return id
	default:
		ut, ok := h.ids.UtOfUser(user)
		if !ok {
			h.log.Warn(context.Background(), "user is not attached to any terminal", logging.String("user", user.String()))
			return 0
		}
		return h.IdentifierForUt(ut)
	}
}

// IdentifierForBeam returns the identifier a beam's samples are grouped
// under. Only global, gateway and beam grouping are valid for a beam.
func (h *Helper) IdentifierForBeam(beamID uint32) uint32 {
	switch h.identifierType {
	case IdentifierGlobal:
		return 0
	case IdentifierGw:
		gw, ok := h.ids.GwOfBeam(beamID)
		if !ok {
			h.log.Warn(context.Background(), "beam is not attached to any gateway", logging.Uint32("beam", beamID))
			return 0
		}
		return gw
	case IdentifierBeam:
		return beamID
	default:
		h.log.Warn(context.Background(), "identifier type is not valid for a beam, using 0",
			logging.String("identifier_type", h.identifierType.String()))
		return 0
	}
}

// IdentifierForGw returns the identifier a gateway's samples are grouped
// under. Only global and gateway grouping are valid for a gateway.
func (h *Helper) IdentifierForGw(gw model.Address) uint32 {
	switch h.identifierType {
	case IdentifierGlobal:
		return 0
	case IdentifierGw:
		id, ok := h.ids.GwID(gw)
		if !ok {
			h.log.Warn(context.Background(), "gateway is not in the id mapper", logging.String("gw", gw.String()))
			return 0
		}
		return id
	default:
		h.log.Warn(context.Background(), "identifier type is not valid for a gateway, using 0",
			logging.String("identifier_type", h.identifierType.String()))
		return 0
	}
}

// metricName turns a helper name into a valid Prometheus metric name.
func metricName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
