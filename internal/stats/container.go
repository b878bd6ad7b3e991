package stats

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/satcom-simulator/internal/logging"
	"github.com/signalsfoundry/satcom-simulator/model"
)

// ErrUnsupportedScope is returned when a metric cannot be grouped at the
// requested scope.
var ErrUnsupportedScope = errors.New("statistic does not support scope")

// Metric is a statistic the container knows how to install.
type Metric int

const (
	FwdAppDelay Metric = iota
	FwdAppThroughput
	FwdDevThroughput
	RtnAppDelay
	RtnAppThroughput
	RtnDevThroughput
)

type metricInfo struct {
	slug    string
	help    string
	kind    ValueKind
	utUsers bool
}

var metrics = map[Metric]metricInfo{
	FwdAppDelay:      {"fwd-app-delay", "Forward link application delay.", DelayValue, true},
	FwdAppThroughput: {"fwd-app-throughput", "Forward link application bytes received.", ThroughputValue, true},
	FwdDevThroughput: {"fwd-dev-throughput", "Forward link device bytes received.", ThroughputValue, false},
	RtnAppDelay:      {"rtn-app-delay", "Return link application delay.", DelayValue, true},
	RtnAppThroughput: {"rtn-app-throughput", "Return link application bytes received.", ThroughputValue, true},
	RtnDevThroughput: {"rtn-dev-throughput", "Return link device bytes received.", ThroughputValue, false},
}

func (m Metric) String() string {
	if info, ok := metrics[m]; ok {
		return info.slug
	}
	return fmt.Sprintf("metric(%d)", int(m))
}

// ParseMetric is the inverse of Metric.String.
func ParseMetric(s string) (Metric, error) {
	for m, info := range metrics {
		if info.slug == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown statistic %q", s)
}

// Scope is the aggregation level of an added statistic.
type Scope int

const (
	ScopeGlobal Scope = iota
	ScopePerGw
	ScopePerBeam
	ScopePerUt
	ScopePerUtUser
)

var scopes = [...]struct {
	slug       string
	identifier IdentifierType
}{
	ScopeGlobal:    {"global", IdentifierGlobal},
	ScopePerGw:     {"per-gw", IdentifierGw},
	ScopePerBeam:   {"per-beam", IdentifierBeam},
	ScopePerUt:     {"per-ut", IdentifierUt},
	ScopePerUtUser: {"per-ut-user", IdentifierUtUser},
}

func (s Scope) String() string {
	if s < 0 || int(s) >= len(scopes) {
		return fmt.Sprintf("scope(%d)", int(s))
	}
	return scopes[s].slug
}

// ParseScope is the inverse of Scope.String.
func ParseScope(str string) (Scope, error) {
	for i, sc := range scopes {
		if sc.slug == str {
			return Scope(i), nil
		}
	}
	return 0, fmt.Errorf("unknown scope %q", str)
}

// OutputTypeSuffix returns the name suffix used for an output type.
func OutputTypeSuffix(o OutputType) string {
	switch o {
	case OutputScalarFile, OutputScalarPlot:
		return "-scalar"
	case OutputScatterFile, OutputScatterPlot:
		return "-scatter"
	case OutputHistogramFile, OutputHistogramPlot:
		return "-histogram"
	case OutputPdfFile, OutputPdfPlot:
		return "-pdf"
	case OutputCdfFile, OutputCdfPlot:
		return "-cdf"
	default:
		return ""
	}
}

// Container installs statistics by (metric, scope, output) and fans samples
// out to every helper of a metric.
type Container struct {
	name string
	ids  *IDMapper
	reg  prometheus.Registerer
	log  logging.Logger

	helpers map[string]*Helper
	byKind  map[Metric][]*Helper
}

// NewContainer returns a container named "stat".
func NewContainer(ids *IDMapper, reg prometheus.Registerer, log logging.Logger) *Container {
	if log == nil {
		log = logging.Noop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Container{
		name:    "stat",
		ids:     ids,
		reg:     reg,
		log:     log,
		helpers: make(map[string]*Helper),
		byKind:  make(map[Metric][]*Helper),
	}
}

// SetName sets the prefix of every helper added afterwards. Spaces and
// slashes become underscores.
func (c *Container) SetName(name string) {
	h := Helper{}
	h.SetName(name)
	c.name = h.name
}

// Name returns the helper name prefix.
func (c *Container) Name() string { return c.name }

// Add creates and installs a helper for metric at scope. Adding the same
// combination twice returns the existing helper.
func (c *Container) Add(metric Metric, scope Scope, output OutputType) (*Helper, error) {
	info, ok := metrics[metric]
	if !ok {
		return nil, fmt.Errorf("add statistic %d: unknown metric", int(metric))
	}
	if scope < 0 || int(scope) >= len(scopes) {
		return nil, fmt.Errorf("add %s: %w %d", metric, ErrUnsupportedScope, int(scope))
	}
	if scope == ScopePerUtUser && !info.utUsers {
		return nil, fmt.Errorf("add %s: %w %s", metric, ErrUnsupportedScope, scope)
	}

	name := c.name + "-" + scope.String() + "-" + info.slug + OutputTypeSuffix(output)
	if h, ok := c.helpers[name]; ok {
		return h, nil
	}

	h := NewHelper(c.ids, info.kind, c.log)
	h.SetName(name)
	h.SetHelp(info.help)
	h.SetIdentifierType(scopes[scope].identifier)
	h.SetOutputType(output)
	if err := h.Install(c.reg); err != nil {
		return nil, err
	}

	c.helpers[name] = h
	c.byKind[metric] = append(c.byKind[metric], h)
	return h, nil
}

// Helpers returns the helpers installed for metric.
func (c *Container) Helpers(metric Metric) []*Helper {
	return append([]*Helper(nil), c.byKind[metric]...)
}

// RecordUt adds a sample attributed to a terminal.
func (c *Container) RecordUt(metric Metric, ut model.Address, value float64) {
	for _, h := range c.byKind[metric] {
		h.Record(h.IdentifierForUt(ut), value)
	}
}

// RecordUtUser adds a sample attributed to a user behind a terminal.
func (c *Container) RecordUtUser(metric Metric, user model.Address, value float64) {
	for _, h := range c.byKind[metric] {
		h.Record(h.IdentifierForUtUser(user), value)
	}
}

// RecordDelay adds a delay sample for a user.
func (c *Container) RecordDelay(metric Metric, user model.Address, d time.Duration) {
	c.RecordUtUser(metric, user, d.Seconds())
}
